package services

import (
	"fmt"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/connections"
	"github.com/beagleboard/beaglemind/internal/infrastructure/redis"
	"github.com/beagleboard/beaglemind/internal/services/chat"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/beagleboard/beaglemind/internal/services/session"
	"github.com/beagleboard/beaglemind/internal/services/tools"
	"github.com/beagleboard/beaglemind/pkg/logger"
)

// Options select the collaborators of a Services container. Zero fields
// are built from Config.
type Options struct {
	Config   config.EffectiveConfig
	Store    retrieval.Store
	Backends chat.BackendFactory
	// ToolsConfigPath overrides the embedded tool catalogue
	ToolsConfigPath string
	// DisableRedis keeps conversation history in memory
	DisableRedis bool
}

type Services struct {
	config         config.EffectiveConfig
	redisService   *redis.Service
	store          retrieval.Store
	registry       *tools.Registry
	backends       chat.BackendFactory
	chatService    *chat.Orchestrator
	sessionService *session.Service
	connections    *connections.Manager
}

// InitializeServices initializes all required services
func InitializeServices(opts Options) (*Services, error) {
	l := logger.For(logger.SERVICE)
	l.Info().Msg("Initializing core services")

	// Redis is optional; history falls back to memory
	var redisService *redis.Service
	if !opts.DisableRedis {
		redisService = redis.NewService()
	}
	l.Info().Bool("redis", redisService != nil).Msg("Initializing Redis service")

	store := opts.Store
	if store == nil {
		var err error
		store, err = retrieval.OpenStore(opts.Config.StoreOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open retrieval store: %w", err)
		}
	}
	l.Info().Strs("collections", store.Collections()).Msg("Initializing retrieval store")

	builtins, err := tools.NewBuiltinRegistry(opts.ToolsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tool registry: %w", err)
	}
	// web clients are anonymous, they never reach the host
	registry := builtins.Subset(tools.RemoteTools...)
	cfg := opts.Config
	cfg.AllowWrites = false
	l.Info().Int("tools", len(registry.List())).Msg("Initializing tool registry")

	backends := opts.Backends
	if backends == nil {
		backends = chat.DefaultBackends
	}

	sessionService := session.NewService(redisService)
	l.Info().Msg("Initializing session service")

	chatService, err := chat.NewOrchestrator(chat.Dependencies{
		Store:    store,
		Registry: registry,
		Backends: backends,
	})
	if err != nil {
		l.Error().Err(err).Msg("Failed to initialize chat service - required for message processing")
		return nil, fmt.Errorf("failed to initialize chat service: %w", err)
	}
	l.Info().Msg("Initializing chat service")

	l.Info().Msg("All services initialized successfully")

	return &Services{
		config:         cfg,
		redisService:   redisService,
		store:          store,
		registry:       registry,
		backends:       backends,
		chatService:    chatService,
		sessionService: sessionService,
		connections:    connections.NewManager(connections.DefaultTimeouts),
	}, nil
}

// GetConfig returns the base configuration requests are resolved against
func (s *Services) GetConfig() config.EffectiveConfig {
	return s.config
}

// GetChatService returns the chat service
func (s *Services) GetChatService() chat.Service {
	return s.chatService
}

// GetBackends returns the factory answers build their backend with
func (s *Services) GetBackends() chat.BackendFactory {
	return s.backends
}

// GetSessionService returns the session service
func (s *Services) GetSessionService() *session.Service {
	return s.sessionService
}

// GetStore returns the retrieval store
func (s *Services) GetStore() retrieval.Store {
	return s.store
}

// GetToolRegistry returns the tool registry
func (s *Services) GetToolRegistry() *tools.Registry {
	return s.registry
}

// GetConnectionManager returns the websocket connection manager
func (s *Services) GetConnectionManager() *connections.Manager {
	return s.connections
}

// Close releases the Redis connection, if any
func (s *Services) Close() error {
	if s.redisService != nil {
		return s.redisService.Close()
	}
	return nil
}
