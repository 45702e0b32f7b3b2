package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateAgents(cfg, ve)
	validateTools(cfg, ve)
	validateMemory(cfg, ve)
	validateRetrieval(cfg, ve)
	validateMaintenance(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	}
	if cfg.Server.RateLimitRPM < 0 {
		ve.Add("server.rate_limit_rpm must be >= 0")
	}
	if cfg.Server.RateLimitRPM > 0 && cfg.Server.RateLimitBurst <= 0 {
		ve.Add("server.rate_limit_burst must be > 0 when rate limiting is enabled")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		ve.Add("server.max_upload_bytes must be > 0")
	}
	if cfg.Uploads.PDFMaxChars < 0 {
		ve.Add("uploads.pdf_max_chars must be >= 0")
	}
}

var validProviderTypes = map[string]bool{
	"gemini":  true,
	"ollama":  true,
	"openai":  true,
	"bedrock": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must list at least one provider")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: gemini, ollama, openai, bedrock)", i, p.Type)
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
	}
	if cfg.LLM.DefaultProvider != "" && len(cfg.LLM.Providers) > 0 && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !seen[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
		}
	}

	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		ve.Add("llm.temperature must be within [0, 2]")
	}
	if cfg.LLM.ContextLength <= 0 {
		ve.Add("llm.context_length must be > 0")
	}
	if cfg.LLM.MaxTokens <= 0 {
		ve.Add("llm.max_tokens must be > 0")
	}
	if cfg.LLM.MaxTokens >= cfg.LLM.ContextLength && cfg.LLM.ContextLength > 0 {
		ve.Add("llm.max_tokens must be smaller than llm.context_length")
	}
	if cfg.LLM.Timeout <= 0 {
		ve.Add("llm.timeout must be > 0")
	}
	if cfg.LLM.MaxRetries < 0 {
		ve.Add("llm.max_retries must be >= 0")
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	if cfg.Agents.HistoryLimit <= 0 {
		ve.Add("agents.history_limit must be > 0")
	}
	if cfg.Agents.MaxToolCalls <= 0 {
		ve.Add("agents.max_tool_calls must be > 0")
	}
	if cfg.Agents.StepBudget < 2 {
		ve.Add("agents.step_budget must be >= 2 (router plus one agent)")
	}
	if cfg.Agents.ResultPreview <= 0 {
		ve.Add("agents.result_preview must be > 0")
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.CallTimeout <= 0 {
		ve.Add("tools.call_timeout must be > 0")
	}
	switch cfg.Tools.SearchBackend {
	case "":
	case "searxng":
		if cfg.Tools.SearXNGURL == "" {
			ve.Add("tools.searxng_url is required when search_backend is searxng")
		}
	default:
		ve.Add("tools.search_backend %q is invalid (want: searxng or empty)", cfg.Tools.SearchBackend)
	}
	if cfg.Tools.MCPCallsPerMin < 0 {
		ve.Add("tools.mcp_calls_per_minute must be >= 0")
	}
	if cfg.MCP.ConfigFile == "" {
		ve.Add("mcp.config_file must not be empty")
	}
}

func validateMemory(cfg *Config, ve *ValidationError) {
	if !cfg.Memory.Enabled {
		return
	}
	switch cfg.Memory.Driver {
	case "memory":
	case "sqlite":
		if cfg.Memory.Path == "" {
			ve.Add("memory.path is required for the sqlite driver")
		}
	default:
		ve.Add("memory.driver %q is invalid (want: sqlite, memory)", cfg.Memory.Driver)
	}
}

func validateRetrieval(cfg *Config, ve *ValidationError) {
	if !cfg.Retrieval.Enabled {
		return
	}
	if cfg.Retrieval.QdrantURL == "" {
		ve.Add("retrieval.qdrant_url must not be empty when retrieval is enabled")
	}
	if cfg.Retrieval.Collection == "" {
		ve.Add("retrieval.collection must not be empty when retrieval is enabled")
	}
	if cfg.Retrieval.K <= 0 {
		ve.Add("retrieval.k must be > 0")
	}
}

func validateMaintenance(cfg *Config, ve *ValidationError) {
	if !cfg.Maintenance.Enabled {
		return
	}
	for name, spec := range map[string]string{
		"mcp_refresh":   cfg.Maintenance.MCPRefresh,
		"image_cleanup": cfg.Maintenance.ImageCleanup,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			ve.Add("maintenance.%s %q is not a valid schedule: %v", name, spec, err)
		}
	}
	if cfg.Image.Retention < 0 {
		ve.Add("image.retention must be >= 0")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
