package handlers

import (
	"net/http"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/services/chat"
	"github.com/beagleboard/beaglemind/pkg/httpext"
	"github.com/beagleboard/beaglemind/pkg/logger"
)

type modelsResponse struct {
	Backend string   `json:"backend"`
	Default string   `json:"default"`
	Models  []string `json:"models"`
	Remote  bool     `json:"remote,omitempty"`
}

// HandleModels lists the models of ?backend=, defaulting to the configured
// one. With ?remote=true the provider itself is asked.
func HandleModels(backends chat.BackendFactory, base config.EffectiveConfig, w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("backend")
	if name == "" {
		name = string(base.Backend)
	}

	provider, err := llm.ParseProvider(name)
	if err != nil {
		httpext.JsonErrorWithDetails(w, http.StatusBadRequest, httpext.ErrorResponse{
			Error:            string(chat.KindInvalidRequest),
			ErrorDescription: err.Error(),
		})
		return
	}

	resp := modelsResponse{
		Backend: string(provider),
		Default: provider.DefaultModel(),
		Models:  llm.Catalogue(provider),
	}

	if r.URL.Query().Get("remote") == "true" {
		cfg := base
		cfg.Backend = provider
		if err := cfg.CheckCredentials(); err != nil {
			writeChatError(w, err)
			return
		}
		backend, err := backends(cfg)
		if err != nil {
			writeChatError(w, &config.ConfigError{Field: "backend", Reason: err.Error()})
			return
		}
		remote, err := backend.ListModels(r.Context())
		if err != nil {
			writeChatError(w, err)
			return
		}
		logger.For(logger.HANDLER).Debug().Str("backend", string(provider)).Int("models", len(remote)).Msg("Listed remote models")
		resp.Models = remote
		resp.Remote = true
	}

	httpext.JsonResponse(w, http.StatusOK, resp)
}
