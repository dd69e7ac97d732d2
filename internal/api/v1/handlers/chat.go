package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/beagleboard/beaglemind/internal/assistant"
	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/services/chat"
	"github.com/beagleboard/beaglemind/internal/services/session"
	"github.com/beagleboard/beaglemind/pkg/httpext"
	"github.com/beagleboard/beaglemind/pkg/logger"
)

// chatRequest is a QueryRequest whose options may be left out
type chatRequest struct {
	Text        string   `json:"text"`
	Backend     string   `json:"backend,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	UseTools    *bool    `json:"use_tools,omitempty"`
	ShowSources *bool    `json:"show_sources,omitempty"`
}

func (c chatRequest) message() assistant.UserMessage {
	return assistant.UserMessage{
		Content:     c.Text,
		Backend:     c.Backend,
		Model:       c.Model,
		Temperature: c.Temperature,
		UseTools:    c.UseTools,
		ShowSources: c.ShowSources,
	}
}

// HandleChat answers one question and records the turn in the caller's
// conversation
func HandleChat(chatService chat.Service, sessionService *session.Service, base config.EffectiveConfig, w http.ResponseWriter, r *http.Request) {
	l := logger.For(logger.HANDLER)
	l.Debug().Msg("Starting chat handler")

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		l.Error().Err(err).Msg("Failed to decode chat request")
		httpext.JsonErrorWithDetails(w, http.StatusBadRequest, httpext.ErrorResponse{
			Error:            string(chat.KindInvalidRequest),
			ErrorDescription: "Invalid request format",
		})
		return
	}

	req := base.Query(body.Text)
	body.message().Apply(&req)

	sessionID, err := sessionService.EnsureSession(w, r)
	if err != nil {
		l.Error().Err(err).Msg("Failed to create session")
		httpext.JsonError(w, string(chat.KindInternal), http.StatusInternalServerError)
		return
	}

	history, err := sessionService.History().Load(r.Context(), sessionID)
	if err != nil {
		l.Warn().Err(err).Msg("Failed to load conversation history, answering without it")
		history = nil
	}

	answer, err := chatService.Answer(r.Context(), base, req, history)
	if err != nil {
		writeChatError(w, err)
		return
	}

	if err := sessionService.History().Append(r.Context(), sessionID,
		models.Message{Role: models.RoleUser, Content: req.Text},
		models.Message{Role: models.RoleAssistant, Content: answer.Text},
	); err != nil {
		l.Warn().Err(err).Msg("Failed to record conversation history")
	}

	httpext.JsonResponse(w, http.StatusOK, answer)
}

func writeChatError(w http.ResponseWriter, err error) {
	kind := chat.Classify(err)
	logger.For(logger.HANDLER).Error().Err(err).Str("kind", string(kind)).Msg("Failed to answer")
	httpext.JsonErrorWithDetails(w, kind.HTTPStatus(), httpext.ErrorResponse{
		Error:            string(kind),
		ErrorDescription: err.Error(),
	})
}

// HandleClearSession forgets the caller's conversation
func HandleClearSession(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	sessionService.ClearSession(w, r)
	w.WriteHeader(http.StatusNoContent)
}
