package websocket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/beagleboard/beaglemind/internal/assistant"
	"github.com/beagleboard/beaglemind/internal/connections"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/services"
	"github.com/beagleboard/beaglemind/internal/services/chat"
	"github.com/beagleboard/beaglemind/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts clients without an Origin header (CLI tools, tests)
// and browsers on the serving host
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, host, ok := strings.Cut(origin, "://")
	return ok && strings.EqualFold(host, r.Host)
}

// HandleChatWebSocket serves the streaming chat socket. Each client frame
// is one question; answers stream back as "streaming" frames followed by a
// "complete" frame, or an "error" frame that leaves the socket open.
func HandleChatWebSocket(svcs *services.Services, w http.ResponseWriter, r *http.Request) {
	l := logger.For(logger.HANDLER)
	sessions := svcs.GetSessionService()

	sessionID, err := sessions.SessionID(r)
	if err != nil || sessionID == "" {
		// no valid cookie, the conversation lives as long as the socket
		sessionID = uuid.New().String()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("Could not upgrade connection")
		return
	}

	manager := svcs.GetConnectionManager()
	client := manager.AddConnection(conn, sessionID)
	l.Info().Int("connections", manager.GetConnectionCount()).Msg("Chat socket connected")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	defer func() {
		cancel()
		close(done)
		manager.RemoveConnection(client)
		conn.Close()
	}()
	client.KeepAlive(done)

	// reads run apart from answering so pongs are seen during long answers
	incoming := make(chan assistant.UserMessage)
	go func() {
		defer cancel()
		defer close(incoming)
		for {
			var msg assistant.UserMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					l.Debug().Err(err).Msg("Chat socket closed unexpectedly")
				}
				return
			}
			select {
			case incoming <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	s := &socket{svcs: svcs, client: client, log: l}
	for msg := range incoming {
		if err := s.handle(ctx, msg); err != nil {
			l.Debug().Err(err).Msg("Chat socket write failed")
			return
		}
	}
}

type socket struct {
	svcs   *services.Services
	client *connections.Client
	log    *zerolog.Logger
}

// handle answers one client frame. Only write failures are returned.
func (s *socket) handle(ctx context.Context, msg assistant.UserMessage) error {
	requestID := uuid.New().String()
	sessionID := s.client.SessionID()
	history := s.svcs.GetSessionService().History()

	if msg.Reset {
		if err := history.Clear(ctx, sessionID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to clear conversation history")
		}
		return s.client.WriteJSON(assistant.AssistantResponse{
			RequestID: requestID,
			MessageID: msg.MessageID,
			Content:   "Conversation cleared.",
			Status:    assistant.StatusComplete,
		})
	}

	base := s.svcs.GetConfig()
	req := base.Query(msg.Content)
	msg.Apply(&req)

	past, err := history.Load(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load conversation history, answering without it")
		past = nil
	}

	stream, err := s.svcs.GetChatService().Stream(ctx, base, req, past)
	if err != nil {
		return s.fail(requestID, msg.MessageID, err)
	}
	defer stream.Close()

	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.fail(requestID, msg.MessageID, err)
		}
		if err := s.client.WriteJSON(assistant.AssistantResponse{
			RequestID: requestID,
			MessageID: msg.MessageID,
			Content:   fragment,
			Status:    assistant.StatusStreaming,
		}); err != nil {
			return err
		}
	}

	answer := stream.Answer()
	if err := history.Append(ctx, sessionID,
		models.Message{Role: models.RoleUser, Content: req.Text},
		models.Message{Role: models.RoleAssistant, Content: answer.Text},
	); err != nil {
		s.log.Warn().Err(err).Msg("Failed to record conversation history")
	}

	final := assistant.AssistantResponse{
		RequestID: requestID,
		MessageID: msg.MessageID,
		Content:   answer.Text,
		Status:    assistant.StatusComplete,
		Notices:   answer.Notices,
	}
	if req.ShowSources {
		final.Sources = answer.SourceDetails
	}
	return s.client.WriteJSON(final)
}

func (s *socket) fail(requestID, messageID string, err error) error {
	kind := chat.Classify(err)
	if kind == chat.KindCancelled {
		return err
	}
	s.log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to answer")
	return s.client.WriteJSON(assistant.AssistantResponse{
		RequestID: requestID,
		MessageID: messageID,
		Content:   err.Error(),
		Status:    assistant.StatusError,
		ErrorKind: string(kind),
	})
}
