package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"omni-agent/internal/adapter/tool"
	"omni-agent/internal/infra/config"
)

// CheckStatus is the outcome of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// doctor runs checks against a loaded config. client is used for the
// reachability checks.
type doctor struct {
	client  *http.Client
	timeout time.Duration
}

type check struct {
	name string
	fn   func(cfg *config.Config) CheckResult
}

func newDoctorCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run health checks on the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := root.path()
			cfg, cfgErr := config.Load(path)
			d := &doctor{client: &http.Client{}, timeout: 5 * time.Second}
			return d.run(cmd.OutOrStdout(), path, cfg, cfgErr)
		},
	}
}

func (d *doctor) checks(path string, cfgErr error) []check {
	return []check{
		{name: "Config file", fn: checkConfigFile(path, cfgErr)},
		{name: "LLM API key", fn: checkLLMAPIKey},
		{name: "LLM connectivity", fn: d.checkLLMConnectivity},
		{name: "Chat history", fn: checkMemoryBackend},
		{name: "MCP servers", fn: checkMCPConfig},
		{name: "Image generation", fn: checkImage},
		{name: "Web search", fn: d.checkSearXNG},
		{name: "Document retrieval", fn: d.checkQdrant},
		{name: "Speech", fn: checkSpeech},
	}
}

// run executes all checks and reports results. It fails when any check fails.
func (d *doctor) run(w io.Writer, path string, cfg *config.Config, cfgErr error) error {
	fmt.Fprintln(w, "omni doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, c := range d.checks(path, cfgErr) {
		result := c.fn(cfg)
		result.Name = c.name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile reports on the config file. A missing file is a warning
// because the defaults apply.
func checkConfigFile(path string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check the YAML syntax and the values named above",
			}
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and OMNI_* variables", path),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", path)}
	}
}

// keyless reports provider types that authenticate without an API key.
func keyless(typ string) bool {
	return typ == "ollama" || typ == "bedrock"
}

// checkLLMAPIKey verifies every provider that needs a key has one.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add a provider under llm.providers",
		}
	}

	var missing []string
	for _, p := range cfg.LLM.Providers {
		if p.APIKey == "" && !keyless(p.Type) {
			missing = append(missing, p.Name)
		}
	}
	def := defaultProvider(cfg.LLM)
	switch {
	case def.APIKey == "" && !keyless(def.Type):
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q has no API key", def.Name),
			Fix:     fmt.Sprintf("Set OMNI_LLM_PROVIDER_%s_API_KEY", strings.ToUpper(def.Name)),
		}
	case len(missing) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("missing API keys for fallback providers: %s", strings.Join(missing, ", ")),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("default provider %q is configured", def.Name)}
}

// checkLLMConnectivity tests whether the default provider's endpoint answers.
func (d *doctor) checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	p := defaultProvider(cfg.LLM)
	endpoint := providerEndpoint(p)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no known endpoint for provider type %q, skipping", p.Type),
		}
	}
	latency, err := d.ping(endpoint)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check the network, or llm.providers[].base_url",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", p.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a URL that answers without credentials.
func providerEndpoint(p config.ProviderConfig) string {
	if p.BaseURL != "" {
		base := strings.TrimRight(p.BaseURL, "/")
		if p.Type == "ollama" {
			return base + "/api/tags"
		}
		return base
	}
	switch p.Type {
	case "gemini":
		return "https://generativelanguage.googleapis.com/v1beta/models"
	case "openai":
		return "https://api.openai.com/v1/models"
	case "ollama":
		return "http://localhost:11434/api/tags"
	default:
		return ""
	}
}

// checkMemoryBackend opens the configured store.
func checkMemoryBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if !cfg.Memory.Enabled {
		return CheckResult{Status: StatusWarn, Message: "memory disabled, history is kept in process only"}
	}
	st, err := openStore(cfg.Memory)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s store: %v", cfg.Memory.Driver, err),
			Fix:     fmt.Sprintf("Check that %s is writable", filepath.Dir(cfg.Memory.Path)),
		}
	}
	st.Close()
	if cfg.Memory.Driver == "memory" {
		return CheckResult{Status: StatusPass, Message: "in-memory store (not persisted across restarts)"}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("sqlite store at %s", cfg.Memory.Path)}
}

// checkMCPConfig parses and validates the MCP server file without connecting.
func checkMCPConfig(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	data, err := os.ReadFile(cfg.MCP.ConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		return CheckResult{Status: StatusPass, Message: "no MCP config file, no servers configured"}
	}
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot read %s: %v", cfg.MCP.ConfigFile, err)}
	}
	configs, _, err := tool.ParseMCPConfigs(data)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     fmt.Sprintf("Fix the JSON in %s", cfg.MCP.ConfigFile),
		}
	}
	var invalid []string
	for name, c := range configs {
		if err := c.Validate(); err != nil {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("invalid entries: %s", strings.Join(invalid, ", ")),
			Fix:     "Run 'omni mcp add <name> --replace ...' to rewrite them",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d server(s) configured", len(configs))}
}

func checkImage(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if !cfg.Image.Enabled {
		return CheckResult{Status: StatusPass, Message: "image generation disabled"}
	}
	if cfg.Image.APIKey == "" && providerKey(cfg.LLM, "gemini") == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "enabled but no Gemini API key, the image agent will be skipped",
			Fix:     "Set image.api_key or configure a gemini provider key",
		}
	}
	if err := os.MkdirAll(cfg.Image.Dir, 0o755); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot create %s: %v", cfg.Image.Dir, err)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("images stored in %s", cfg.Image.Dir)}
}

// checkSearXNG checks that SearXNG is running when web search uses it.
func (d *doctor) checkSearXNG(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if cfg.Tools.SearchBackend != "searxng" {
		return CheckResult{Status: StatusWarn, Message: "web search disabled, the research agent answers from the model only"}
	}
	if _, err := d.ping(cfg.Tools.SearXNGURL); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("SearXNG not reachable at %s: %v", cfg.Tools.SearXNGURL, err),
			Fix:     "Start SearXNG or update tools.searxng_url",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("SearXNG reachable at %s", cfg.Tools.SearXNGURL)}
}

// checkQdrant checks that the retrieval collection exists.
func (d *doctor) checkQdrant(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	rc := cfg.Retrieval
	if !rc.Enabled {
		return CheckResult{Status: StatusPass, Message: "retrieval disabled"}
	}
	url := strings.TrimRight(rc.QdrantURL, "/") + "/collections/" + rc.Collection
	if _, err := d.ping(url); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("collection %q not available: %v", rc.Collection, err),
			Fix:     "Start Qdrant and create the collection, or set retrieval.enabled: false",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("collection %q reachable", rc.Collection)}
}

func checkSpeech(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	var missing []string
	if cfg.Speech.STT.APIKey == "" {
		missing = append(missing, "speech-to-text")
	}
	if cfg.Speech.TTS.APIKey == "" {
		missing = append(missing, "text-to-speech")
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not configured, voice audio is limited", strings.Join(missing, " and ")),
			Fix:     "Set speech.stt.api_key and speech.tts.api_key",
		}
	}
	return CheckResult{Status: StatusPass, Message: "speech-to-text and text-to-speech configured"}
}

// ping GETs url and fails on transport errors and 4xx/5xx statuses other
// than 401/403, which still prove the endpoint is up.
func (d *doctor) ping(url string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	latency := time.Since(start)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return latency, nil
	case resp.StatusCode >= 400:
		return latency, fmt.Errorf("status %d", resp.StatusCode)
	}
	return latency, nil
}
