package tool

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"omni-agent/internal/domain"
)

// Registry holds the named built-in tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry. Registered tools are wrapped
// with schema validation; a schema that fails to compile is logged and the
// tool is registered unwrapped.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Returns ErrDuplicate if the name is already registered.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, name)
	}

	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
	} else {
		t = wrapped
	}

	r.tools[name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	slices.SortFunc(tools, func(a, b domain.Tool) int { return strings.Compare(a.Name(), b.Name()) })
	return tools
}

// Map returns a copy of the name to tool mapping.
func (r *Registry) Map() map[string]domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.Tool, len(r.tools))
	for name, t := range r.tools {
		out[name] = t
	}
	return out
}

// Schemas returns the schemas of all registered tools sorted by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	tools := r.List()
	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}
