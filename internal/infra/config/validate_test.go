package config

import (
	"strings"
	"testing"
)

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = ""
	cfg.Agents.MaxToolCalls = 0
	cfg.Logger.Level = "loud"

	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Fatalf("errors = %v", ve.Errors)
	}
	assertContains(t, err.Error(), "server.addr must not be empty")
	assertContains(t, err.Error(), "agents.max_tool_calls must be > 0")
	assertContains(t, err.Error(), `logger.level "loud" is invalid`)
}

func TestValidateLLM(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown type", func(c *Config) { c.LLM.Providers[0].Type = "anthropic" }, `type "anthropic" is invalid`},
		{"missing default", func(c *Config) { c.LLM.DefaultProvider = "nope" }, `"nope" does not match any configured provider`},
		{"duplicate", func(c *Config) { c.LLM.Providers = append(c.LLM.Providers, c.LLM.Providers[0]) }, "duplicate provider name"},
		{"bedrock region", func(c *Config) {
			c.LLM.Providers = append(c.LLM.Providers, ProviderConfig{Name: "aws", Type: "bedrock"})
		}, "region is required for bedrock"},
		{"max tokens", func(c *Config) { c.LLM.MaxTokens = 8192 }, "max_tokens must be smaller"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"fallback", func(c *Config) {
			c.LLM.Failover = FailoverConfig{Enabled: true, Fallbacks: []string{"ghost"}}
		}, `unknown provider "ghost"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateSearchBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.SearchBackend = "searxng"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "tools.searxng_url is required")

	cfg.Tools.SearXNGURL = "http://localhost:8080"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateMemoryDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Driver = "postgres"
	assertContains(t, Validate(cfg).Error(), `memory.driver "postgres" is invalid`)

	cfg.Memory.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled memory should skip driver check: %v", err)
	}
}

func TestValidateMaintenanceSchedule(t *testing.T) {
	cfg := Defaults()
	cfg.Maintenance.MCPRefresh = "every now and then"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "maintenance.mcp_refresh")
}

func TestValidateRetrievalOnlyWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Retrieval.K = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled retrieval should not be validated: %v", err)
	}
	cfg.Retrieval.Enabled = true
	assertContains(t, Validate(cfg).Error(), "retrieval.k must be > 0")
}

func TestValidatePDFMaxChars(t *testing.T) {
	cfg := Defaults()
	cfg.Uploads.PDFMaxChars = -1
	assertContains(t, Validate(cfg).Error(), "uploads.pdf_max_chars must be >= 0")

	cfg.Uploads.PDFMaxChars = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("zero means no cap: %v", err)
	}
}
