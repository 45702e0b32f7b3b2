package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-agent/internal/infra/config"
)

func testDoctor() *doctor {
	return &doctor{client: &http.Client{}, timeout: 2 * time.Second}
}

func TestCheckConfigFile(t *testing.T) {
	missing := checkConfigFile("/nonexistent/config.yaml", nil)(nil)
	assert.Equal(t, StatusWarn, missing.Status)

	bad := checkConfigFile("/nonexistent/config.yaml", &config.ValidationError{Errors: []string{"bad yaml"}})(nil)
	assert.Equal(t, StatusFail, bad.Status)
	assert.NotEmpty(t, bad.Fix)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o600))
	assert.Equal(t, StatusPass, checkConfigFile(path, nil)(nil).Status)
}

func TestCheckLLMAPIKey(t *testing.T) {
	assert.Equal(t, StatusFail, checkLLMAPIKey(nil).Status)
	assert.Equal(t, StatusFail, checkLLMAPIKey(&config.Config{}).Status)

	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "gemini",
		Providers: []config.ProviderConfig{
			{Name: "gemini", Type: "gemini"},
			{Name: "local", Type: "ollama"},
		},
	}}
	res := checkLLMAPIKey(cfg)
	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Fix, "OMNI_LLM_PROVIDER_GEMINI_API_KEY")

	cfg.LLM.Providers[0].APIKey = "k"
	assert.Equal(t, StatusPass, checkLLMAPIKey(cfg).Status)

	cfg.LLM.Providers = append(cfg.LLM.Providers, config.ProviderConfig{Name: "backup", Type: "openai"})
	assert.Equal(t, StatusWarn, checkLLMAPIKey(cfg).Status)
}

func TestProviderEndpoint(t *testing.T) {
	assert.Equal(t, "http://gpu:11434/api/tags", providerEndpoint(config.ProviderConfig{Type: "ollama", BaseURL: "http://gpu:11434/"}))
	assert.Equal(t, "https://api.openai.com/v1/models", providerEndpoint(config.ProviderConfig{Type: "openai"}))
	assert.Empty(t, providerEndpoint(config.ProviderConfig{Type: "bedrock"}))
}

func TestPingAcceptsAuthErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth":
			w.WriteHeader(http.StatusUnauthorized)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	d := testDoctor()
	_, err := d.ping(srv.URL + "/ok")
	assert.NoError(t, err)
	_, err = d.ping(srv.URL + "/auth")
	assert.NoError(t, err)
	_, err = d.ping(srv.URL + "/missing")
	assert.ErrorContains(t, err, "404")
}

func TestCheckLLMConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
	}))
	defer srv.Close()

	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "local",
		Providers:       []config.ProviderConfig{{Name: "local", Type: "ollama", BaseURL: srv.URL}},
	}}
	assert.Equal(t, StatusPass, testDoctor().checkLLMConnectivity(cfg).Status)

	cfg.LLM.Providers[0].BaseURL = "http://127.0.0.1:1"
	assert.Equal(t, StatusFail, testDoctor().checkLLMConnectivity(cfg).Status)
}

func TestCheckMemoryBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Memory.Path = filepath.Join(t.TempDir(), "db", "chat.db")
	assert.Equal(t, StatusPass, checkMemoryBackend(cfg).Status)

	cfg.Memory.Enabled = false
	assert.Equal(t, StatusWarn, checkMemoryBackend(cfg).Status)
}

func TestCheckMCPConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.MCP.ConfigFile = filepath.Join(dir, "mcp_config.json")
	assert.Equal(t, StatusPass, checkMCPConfig(cfg).Status)

	require.NoError(t, os.WriteFile(cfg.MCP.ConfigFile, []byte(`{"mcpServers":{"time":{"command":"uvx"}}}`), 0o600))
	res := checkMCPConfig(cfg)
	assert.Equal(t, StatusPass, res.Status)
	assert.Contains(t, res.Message, "1 server")

	require.NoError(t, os.WriteFile(cfg.MCP.ConfigFile, []byte(`{"broken":{"transport":"stdio"}}`), 0o600))
	assert.Equal(t, StatusWarn, checkMCPConfig(cfg).Status)

	require.NoError(t, os.WriteFile(cfg.MCP.ConfigFile, []byte(`{not json`), 0o600))
	assert.Equal(t, StatusFail, checkMCPConfig(cfg).Status)
}

func TestCheckQdrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/rag_collection" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := config.Defaults()
	assert.Equal(t, StatusPass, testDoctor().checkQdrant(cfg).Status, "disabled")

	cfg.Retrieval.Enabled = true
	cfg.Retrieval.QdrantURL = srv.URL
	assert.Equal(t, StatusPass, testDoctor().checkQdrant(cfg).Status)

	cfg.Retrieval.Collection = "other"
	assert.Equal(t, StatusFail, testDoctor().checkQdrant(cfg).Status)
}

func TestDoctorRunSummarizes(t *testing.T) {
	var out bytes.Buffer
	err := testDoctor().run(&out, "/nonexistent/config.yaml", nil, &config.ValidationError{Errors: []string{"bad"}})
	require.Error(t, err)
	assert.Contains(t, out.String(), "[FAIL] Config file")
	assert.Contains(t, out.String(), "Results: 0 passed, 0 warnings, 9 failed")
}
