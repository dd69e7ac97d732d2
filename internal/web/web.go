package web

import (
	_ "embed"
	"net/http"

	"github.com/beagleboard/beaglemind/internal/services/session"
	"github.com/beagleboard/beaglemind/pkg/logger"
)

//go:embed index.html
var indexHTML []byte

// HandleIndex serves the chat page and makes sure the browser holds a
// session cookie before it opens the socket
func HandleIndex(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	if _, err := sessionService.EnsureSession(w, r); err != nil {
		logger.For(logger.HANDLER).Error().Err(err).Msg("Failed to create session for chat page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if _, err := w.Write(indexHTML); err != nil {
		return
	}
}
