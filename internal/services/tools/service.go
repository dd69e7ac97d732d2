package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
)

// Handler runs one tool. Returned errors become error results for the model.
type Handler func(ctx context.Context, env Env, args json.RawMessage) (string, error)

// Definition is a registered tool
type Definition struct {
	Spec             models.ToolSpec
	RequiresApproval bool
	Handler          Handler
}

type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// Env is what a tool may touch during one answer run
type Env struct {
	// Workspace is the absolute root every path argument is confined to
	Workspace  string
	Store      retrieval.Store
	Collection string
	TopK       int
	// AllowWrites approves gated tools without asking
	AllowWrites bool
	Approver    Approver
	// OnRetrieve receives the chunks surfaced by retrieve_context
	OnRetrieve func(models.RetrievalResult)
}

// Registry holds tool definitions in registration order. It is safe for
// concurrent use; per-run state lives in the Env passed to Bind.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

func (r *Registry) Register(def Definition) error {
	if def.Spec.Name == "" {
		return fmt.Errorf("tool definition has no name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Spec.Name]; exists {
		return &DuplicateToolError{Name: def.Spec.Name}
	}
	r.tools[def.Spec.Name] = def
	r.order = append(r.order, def.Spec.Name)
	return nil
}

// List returns the definitions in registration order
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Specs is the catalogue offered to a backend
func (r *Registry) Specs() []models.ToolSpec {
	defs := r.List()
	out := make([]models.ToolSpec, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.Spec)
	}
	return out
}

func (r *Registry) lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// RemoteTools are the tools offered to clients of the HTTP server. They only
// read the knowledge base, never the host.
var RemoteTools = []string{"retrieve_context"}

// Subset returns a registry holding only the named tools that are
// registered here and need no approval
func (r *Registry) Subset(names ...string) *Registry {
	out := NewRegistry()
	for _, name := range names {
		def, ok := r.lookup(name)
		if !ok || def.RequiresApproval {
			continue
		}
		// names are unique in r
		_ = out.Register(def)
	}
	return out
}

// Bind returns an executor that runs calls against env
func (r *Registry) Bind(env Env) *Executor {
	return &Executor{registry: r, env: env}
}

// NewBuiltinRegistry registers the tools described in the tools config
// (configPath, or the built-in catalogue when empty) with their handlers.
func NewBuiltinRegistry(configPath string) (*Registry, error) {
	toolsConfig, err := config.LoadToolsConfig(configPath)
	if err != nil {
		return nil, err
	}

	r := NewRegistry()
	for _, def := range toolsConfig.Tools {
		handler, ok := builtinHandlers[def.Name]
		if !ok {
			return nil, fmt.Errorf("tool %q has no built-in implementation", def.Name)
		}
		if err := r.Register(Definition{
			Spec: models.ToolSpec{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
			RequiresApproval: def.RequiresApproval,
			Handler:          handler,
		}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

var builtinHandlers = map[string]Handler{
	"retrieve_context":    retrieveContext,
	"read_file":           readFile,
	"list_directory":      listDirectory,
	"show_directory_tree": showDirectoryTree,
	"search_in_files":     searchInFiles,
	"get_machine_info":    getMachineInfo,
	"analyze_code":        analyzeCode,
	"run_command":         runCommand,
	"write_file":          writeFile,
	"edit_file_lines":     editFileLines,
}
