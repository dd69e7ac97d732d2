package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/beagleboard/beaglemind/internal/services/tools"
	"github.com/beagleboard/beaglemind/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is a step of the answer state machine
type State int

const (
	StateEmbedding State = iota
	StateRetrieving
	StatePrompting
	StateAwaitingModel
	StateToolDispatch
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateEmbedding:
		return "EMBEDDING"
	case StateRetrieving:
		return "RETRIEVING"
	case StatePrompting:
		return "PROMPTING"
	case StateAwaitingModel:
		return "AWAITING_MODEL"
	case StateToolDispatch:
		return "TOOL_DISPATCH"
	case StateFinalized:
		return "FINALIZED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	// small local models get less context
	ollamaMaxContext = 3

	fallbackAnswer = "I could not finish answering within the tool call limit. Please try rephrasing the question."
	emptyAnswer    = "The model returned an empty response."
)

var validate = validator.New()

// run is the state of one orchestration pass. It is confined to the
// goroutine driving it.
type run struct {
	log      zerolog.Logger
	cfg      config.EffectiveConfig
	req      models.QueryRequest
	backend  llm.Backend
	executor *tools.Executor
	tools    []models.ToolSpec

	messages []models.Message
	surfaced []models.ScoredChunk
	seen     map[string]struct{}
	trace    []models.ToolTraceEntry
	notices  []string
	states   []string

	rounds      int
	lastContent string
	// synthetic is set when the answer text did not come from the backend
	synthetic bool
	answer    *models.Answer
}

func (r *run) enter(s State) {
	r.states = append(r.states, s.String())
	r.log.Debug().Str("state", s.String()).Int("round", r.rounds).Msg("Answer state")
}

// surface records chunks shown to the backend, keeping the first
// appearance of each chunk
func (r *run) surface(result models.RetrievalResult) {
	for _, sc := range result {
		if _, ok := r.seen[sc.Chunk.ID]; ok {
			continue
		}
		r.seen[sc.Chunk.ID] = struct{}{}
		r.surfaced = append(r.surfaced, sc)
	}
}

func (o *Orchestrator) Answer(ctx context.Context, cfg config.EffectiveConfig, req models.QueryRequest, history []models.Message) (*models.Answer, error) {
	r, err := o.prepare(ctx, cfg, req, history)
	if err != nil {
		return nil, err
	}

	for {
		r.enter(StateAwaitingModel)
		resp, err := r.backend.Complete(ctx, r.request())
		if err != nil {
			return nil, r.fail(err)
		}

		done, err := r.step(ctx, resp)
		if err != nil {
			return nil, r.fail(err)
		}
		if done {
			return r.answer, nil
		}
	}
}

// prepare runs everything before the first model call: validation,
// backend selection, embedding, retrieval and prompt assembly
func (o *Orchestrator) prepare(ctx context.Context, cfg config.EffectiveConfig, req models.QueryRequest, history []models.Message) (*run, error) {
	req.Text = strings.TrimSpace(req.Text)
	if err := validate.Struct(req); err != nil {
		return nil, &InvalidRequestError{Err: err}
	}

	provider, err := llm.ParseProvider(req.Backend)
	if err != nil {
		return nil, &config.ConfigError{Field: "backend", Reason: err.Error()}
	}
	cfg.Backend = provider
	cfg.Model = req.Model
	cfg.Temperature = llm.ClampTemperature(req.Temperature)
	cfg.UseTools = req.UseTools
	cfg.ShowSources = req.ShowSources
	if err := cfg.CheckCredentials(); err != nil {
		return nil, err
	}

	backend, err := o.deps.Backends(cfg)
	if err != nil {
		return nil, &config.ConfigError{Field: "backend", Reason: err.Error()}
	}

	r := &run{
		log:     logger.For(logger.CHAT).With().Str("backend", string(provider)).Str("model", cfg.Model).Logger(),
		cfg:     cfg,
		req:     req,
		backend: backend,
		seen:    make(map[string]struct{}),
	}

	strategy, err := retrieval.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, &config.ConfigError{Field: "strategy", Reason: err.Error()}
	}
	queries := strategy.Queries(req.Text, lastUserTurn(history))

	// text-searching stores embed on their side
	r.enter(StateEmbedding)
	k := cfg.TopK
	if provider == llm.Ollama && k > ollamaMaxContext {
		k = ollamaMaxContext
	}

	r.enter(StateRetrieving)
	result, err := retrieval.SearchAll(ctx, o.deps.Store, cfg.Collection, queries, k)
	if err != nil {
		return nil, err
	}
	r.surface(result)
	r.log.Debug().
		Int("chunks", len(result)).
		Str("collection", cfg.Collection).
		Str("strategy", string(strategy)).
		Msg("Retrieved context")

	r.enter(StatePrompting)
	withTools := req.UseTools && backend.SupportsTools()
	if req.UseTools && !backend.SupportsTools() {
		r.log.Debug().Msg("Backend does not support tools, answering without them")
	}
	if withTools {
		r.tools = o.deps.Registry.Specs()
		r.executor = o.deps.Registry.Bind(tools.Env{
			Workspace:   cfg.Workspace,
			Store:       o.deps.Store,
			Collection:  cfg.Collection,
			TopK:        cfg.TopK,
			AllowWrites: cfg.AllowWrites,
			Approver:    o.deps.Approver,
			OnRetrieve:  r.surface,
		})
	}
	r.messages = buildPrompt(cfg.Workspace, withTools, result, history, req.Text)

	return r, nil
}

func (r *run) request() llm.Request {
	return llm.Request{
		Model:       r.cfg.Model,
		Messages:    r.messages,
		Tools:       r.tools,
		Temperature: r.cfg.Temperature,
	}
}

// step consumes one model response. It dispatches requested tools and
// reports false, or finalizes the answer and reports true.
func (r *run) step(ctx context.Context, resp *llm.Response) (bool, error) {
	if resp.Content != "" {
		r.lastContent = resp.Content
	}

	if !resp.WantsTools() || r.executor == nil {
		text := resp.Content
		if text == "" {
			text = emptyAnswer
			r.synthetic = true
			r.notices = append(r.notices, "empty response from backend")
		}
		r.finalize(text)
		return true, nil
	}

	if r.rounds >= r.cfg.MaxToolRounds {
		exceeded := &ToolLoopExceededError{Rounds: r.rounds}
		r.log.Warn().Int("rounds", r.rounds).Msg("Tool loop exceeded, finalizing best-effort answer")
		r.notices = append(r.notices, exceeded.Error())

		text := r.lastContent
		if text == "" {
			text = fallbackAnswer
			r.synthetic = true
		}
		r.finalize(text)
		return true, nil
	}

	r.rounds++
	r.enter(StateToolDispatch)
	r.messages = append(r.messages, resp.Message())

	for _, call := range resp.ToolCalls {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		result := r.executor.ExecuteToolCall(ctx, call)
		r.trace = append(r.trace, models.ToolTraceEntry{Round: r.rounds, Call: call, Result: result})
		r.messages = append(r.messages, models.Message{
			Role:       models.RoleTool,
			Content:    result.Content(),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
	return false, nil
}

func (r *run) finalize(text string) {
	r.enter(StateFinalized)

	sources := make([]string, 0, len(r.surfaced))
	details := make([]models.SourceRef, 0, len(r.surfaced))
	seen := make(map[string]struct{}, len(r.surfaced))
	for _, sc := range r.surfaced {
		if _, ok := seen[sc.Chunk.SourceID]; ok {
			continue
		}
		seen[sc.Chunk.SourceID] = struct{}{}
		sources = append(sources, sc.Chunk.SourceID)
		details = append(details, models.SourceRef{
			SourceID:   sc.Chunk.SourceID,
			SourceType: sc.Chunk.SourceType,
			Score:      roundScore(sc.Score),
		})
	}

	r.answer = &models.Answer{
		ID:            fmt.Sprintf("beaglemind-%s", uuid.New().String()[:8]),
		Text:          text,
		Sources:       sources,
		SourceDetails: details,
		ToolTrace:     r.trace,
		Notices:       r.notices,
		Backend:       string(r.cfg.Backend),
		Model:         r.cfg.Model,
		Rounds:        r.rounds,
		States:        r.states,
	}

	r.log.Info().
		Str("answer_id", r.answer.ID).
		Int("sources", len(sources)).
		Int("tool_rounds", r.rounds).
		Msg("Answer finalized")
}

func (r *run) fail(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.log.Info().Msg("Answer run cancelled")
		return err
	}
	r.log.Error().Err(err).Str("kind", string(Classify(err))).Msg("Answer run failed")
	return err
}

func lastUserTurn(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func roundScore(s float64) float64 {
	return math.Round(s*1e4) / 1e4
}
