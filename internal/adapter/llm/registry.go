package llm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewProvider constructs the backend named by cfg.Type.
func NewProvider(ctx context.Context, cfg config.ProviderConfig, llmCfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	switch cfg.Type {
	case "gemini":
		return NewGeminiProvider(cfg, NewHTTPClient(llmCfg), logger), nil
	case "openai":
		return NewOpenAIProvider(cfg, NewHTTPClient(llmCfg), logger), nil
	case "ollama":
		return NewOllamaProvider(cfg, llmCfg.ContextLength, NewHTTPClient(llmCfg), logger), nil
	case "bedrock":
		return NewBedrockProvider(ctx, cfg, logger)
	default:
		return nil, domain.NewDomainError("llm.NewProvider", domain.ErrInvalidConfig,
			fmt.Sprintf("unknown provider type %q", cfg.Type))
	}
}

// Build creates every configured provider, wraps each in a circuit breaker
// when enabled, and returns the provider the agents should use: the default
// provider, optionally backed by the configured fallbacks.
func Build(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, *Registry, error) {
	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := NewProvider(ctx, pc, cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(p); err != nil {
			return nil, nil, err
		}
	}

	name := cfg.DefaultProvider
	if name == "" && len(cfg.Providers) > 0 {
		name = cfg.Providers[0].Name
	}
	primary, err := reg.Get(name)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Failover.Enabled || len(cfg.Failover.Fallbacks) == 0 {
		return primary, reg, nil
	}

	fallbacks := make([]domain.LLMProvider, 0, len(cfg.Failover.Fallbacks))
	for _, fbName := range cfg.Failover.Fallbacks {
		if fbName == name {
			continue
		}
		fb, err := reg.Get(fbName)
		if err != nil {
			return nil, nil, err
		}
		fallbacks = append(fallbacks, fb)
	}
	logger.Info("llm failover enabled", "primary", name, "fallbacks", cfg.Failover.Fallbacks)
	return NewFailoverProvider(primary, fallbacks, logger), reg, nil
}
