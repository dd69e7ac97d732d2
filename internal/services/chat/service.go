package chat

import (
	"context"
	"fmt"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/beagleboard/beaglemind/internal/services/tools"
)

// Service answers one user turn
type Service interface {
	// Answer runs the whole pipeline and returns the final answer
	Answer(ctx context.Context, cfg config.EffectiveConfig, req models.QueryRequest, history []models.Message) (*models.Answer, error)
	// Stream returns a pullable answer. Fatal setup errors, such as a
	// missing collection, are returned before any backend call.
	Stream(ctx context.Context, cfg config.EffectiveConfig, req models.QueryRequest, history []models.Message) (*AnswerStream, error)
}

// BackendFactory builds the backend variant selected by cfg
type BackendFactory func(cfg config.EffectiveConfig) (llm.Backend, error)

// DefaultBackends builds backends with the adapter registered for cfg.Backend
func DefaultBackends(cfg config.EffectiveConfig) (llm.Backend, error) {
	return llm.New(cfg.Backend, cfg.BackendOptions())
}

// Dependencies are the collaborators an Orchestrator is built from. The
// store and registry are shared by concurrent runs.
type Dependencies struct {
	Store    retrieval.Store
	Registry *tools.Registry
	// Backends defaults to DefaultBackends
	Backends BackendFactory
	// Approver is asked before gated tools run; nil denies them unless the
	// config allows writes
	Approver tools.Approver
}

// Orchestrator drives the retrieval augmented answer pipeline
type Orchestrator struct {
	deps Dependencies
}

var _ Service = (*Orchestrator)(nil)

func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("retrieval store is required")
	}
	if deps.Registry == nil {
		deps.Registry = tools.NewRegistry()
	}
	if deps.Backends == nil {
		deps.Backends = DefaultBackends
	}
	return &Orchestrator{deps: deps}, nil
}
