package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	Agents      AgentsConfig      `yaml:"agents"`
	Tools       ToolsConfig       `yaml:"tools"`
	MCP         MCPConfig         `yaml:"mcp"`
	Memory      MemoryConfig      `yaml:"memory"`
	Image       ImageConfig       `yaml:"image"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Speech      SpeechConfig      `yaml:"speech"`
	Uploads     UploadsConfig     `yaml:"uploads"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
}

// ServerConfig holds HTTP/WebSocket transport settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	CORSOrigins       []string      `yaml:"cors_origins"`
	RateLimitRPM      int           `yaml:"rate_limit_rpm"` // 0 = disabled
	RateLimitBurst    int           `yaml:"rate_limit_burst"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
}

// LLMConfig holds LLM provider settings. Generation parameters apply to every provider.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Temperature     float64              `yaml:"temperature"`
	ContextLength   int                  `yaml:"context_length"`
	MaxTokens       int                  `yaml:"max_tokens"`
	Timeout         time.Duration        `yaml:"timeout"`
	MaxRetries      int                  `yaml:"max_retries"`
	RetryDelay      time.Duration        `yaml:"retry_delay"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // gemini, ollama, openai, bedrock
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Region  string `yaml:"region,omitempty"`
}

// FailoverConfig holds model failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// AgentsConfig bounds the per-turn agent work.
type AgentsConfig struct {
	HistoryLimit  int  `yaml:"history_limit"`
	MaxToolCalls  int  `yaml:"max_tool_calls"`
	StepBudget    int  `yaml:"step_budget"`
	Delegation    bool `yaml:"delegation"`
	ResultPreview int  `yaml:"result_preview"` // characters of each tool result shown in the second pass
}

// ToolsConfig holds built-in tool settings.
type ToolsConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout"`
	SearchBackend  string        `yaml:"search_backend"` // "searxng" or "" (disabled)
	SearXNGURL     string        `yaml:"searxng_url"`
	SearchCacheTTL time.Duration `yaml:"search_cache_ttl"`
	MCPCallsPerMin int           `yaml:"mcp_calls_per_minute"`
}

// MCPConfig points at the JSON file that lists MCP servers.
type MCPConfig struct {
	ConfigFile     string        `yaml:"config_file"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MemoryConfig holds chat-history persistence settings.
type MemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"` // "sqlite" or "memory"
	Path    string `yaml:"path"`
}

// ImageConfig holds image generation settings.
type ImageConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
}

// RetrievalConfig holds document retrieval settings for the RAG agent.
type RetrievalConfig struct {
	Enabled        bool   `yaml:"enabled"`
	QdrantURL      string `yaml:"qdrant_url"`
	QdrantAPIKey   string `yaml:"qdrant_api_key,omitempty"`
	Collection     string `yaml:"collection"`
	K              int    `yaml:"k"`
	EmbeddingURL   string `yaml:"embedding_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	EmbeddingDims  int    `yaml:"embedding_dims"`
	CacheSize      int    `yaml:"cache_size"`
}

// SpeechConfig holds STT/TTS settings for the voice loop.
type SpeechConfig struct {
	SampleRate int       `yaml:"sample_rate"`
	STT        STTConfig `yaml:"stt"`
	TTS        TTSConfig `yaml:"tts"`
}

// STTConfig targets an OpenAI-compatible transcription endpoint.
type STTConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// TTSConfig holds ElevenLabs settings.
type TTSConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	VoiceID      string `yaml:"voice_id"`
	Model        string `yaml:"model"`
	OutputFormat string `yaml:"output_format"`
}

// UploadsConfig holds the directory for files posted to /chat-with-image.
type UploadsConfig struct {
	Dir string `yaml:"dir"`
	// PDFMaxChars caps the text extracted from an uploaded PDF (0 = no cap).
	PDFMaxChars int `yaml:"pdf_max_chars"`
}

// MaintenanceConfig holds cron specs for background jobs.
type MaintenanceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	MCPRefresh   string `yaml:"mcp_refresh"`
	ImageCleanup string `yaml:"image_cleanup"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

const cacheDir = "database/cache"

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8000",
			CORSOrigins:       []string{"http://localhost:5173"},
			RateLimitRPM:      120,
			RateLimitBurst:    20,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			MaxBodyBytes:      1 << 20,
			MaxUploadBytes:    20 << 20,
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			Providers: []ProviderConfig{
				{Name: "gemini", Type: "gemini", Model: "gemini-2.5-flash"},
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			Temperature:   1.0,
			ContextLength: 4096,
			MaxTokens:     2048,
			Timeout:       120 * time.Second,
			MaxRetries:    3,
			RetryDelay:    time.Second,
		},
		Agents: AgentsConfig{
			HistoryLimit:  50,
			MaxToolCalls:  3,
			StepBudget:    4,
			ResultPreview: 2000,
		},
		Tools: ToolsConfig{
			CallTimeout:    30 * time.Second,
			SearchCacheTTL: 15 * time.Minute,
			MCPCallsPerMin: 60,
		},
		MCP: MCPConfig{
			ConfigFile:     "mcp_config.json",
			ConnectTimeout: 30 * time.Second,
		},
		Memory: MemoryConfig{
			Enabled: true,
			Driver:  "sqlite",
			Path:    "database/chat_history.db",
		},
		Image: ImageConfig{
			Enabled:   true,
			Model:     "gemini-2.0-flash-preview-image-generation",
			Dir:       filepath.Join(cacheDir, "generated_images"),
			Retention: 168 * time.Hour,
		},
		Retrieval: RetrievalConfig{
			QdrantURL:      "http://localhost:6333",
			Collection:     "rag_collection",
			K:              6,
			EmbeddingURL:   "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			EmbeddingDims:  768,
			CacheSize:      1024,
		},
		Speech: SpeechConfig{
			SampleRate: 16000,
			STT: STTConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "whisper-1",
			},
			TTS: TTSConfig{
				BaseURL:      "https://api.elevenlabs.io/v1",
				VoiceID:      "foH7s9fX31wFFH2yqrFa",
				Model:        "eleven_flash_v2_5",
				OutputFormat: "mp3_44100_32",
			},
		},
		Uploads: UploadsConfig{
			Dir:         filepath.Join(cacheDir, "uploaded_files"),
			PDFMaxChars: 20000,
		},
		Maintenance: MaintenanceConfig{
			Enabled:      true,
			MCPRefresh:   "@every 10m",
			ImageCleanup: "@daily",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps OMNI_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OMNI_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("OMNI_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("OMNI_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("OMNI_LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	if v := os.Getenv("OMNI_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LLM.Timeout = d
		}
	}
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		prefix := "OMNI_LLM_PROVIDER_" + strings.ToUpper(p.Name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			p.Model = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			p.BaseURL = v
		}
		if p.Type == "gemini" && p.APIKey == "" {
			p.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}
	if v := os.Getenv("OMNI_AGENTS_DELEGATION"); v != "" {
		cfg.Agents.Delegation = v == "true"
	}
	if v := os.Getenv("OMNI_TOOLS_SEARCH_BACKEND"); v != "" {
		cfg.Tools.SearchBackend = v
	}
	if v := os.Getenv("OMNI_TOOLS_SEARXNG_URL"); v != "" {
		cfg.Tools.SearXNGURL = v
	}
	if v := os.Getenv("OMNI_MCP_CONFIG_FILE"); v != "" {
		cfg.MCP.ConfigFile = v
	}
	if v := os.Getenv("OMNI_MEMORY_ENABLED"); v != "" {
		cfg.Memory.Enabled = v == "true"
	}
	if v := os.Getenv("OMNI_MEMORY_PATH"); v != "" {
		cfg.Memory.Path = v
	}
	if v := os.Getenv("OMNI_IMAGE_API_KEY"); v != "" {
		cfg.Image.APIKey = v
	}
	if cfg.Image.APIKey == "" {
		cfg.Image.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if v := os.Getenv("OMNI_RETRIEVAL_ENABLED"); v != "" {
		cfg.Retrieval.Enabled = v == "true"
	}
	if v := os.Getenv("OMNI_RETRIEVAL_QDRANT_URL"); v != "" {
		cfg.Retrieval.QdrantURL = v
	}
	if v := os.Getenv("OMNI_STT_API_KEY"); v != "" {
		cfg.Speech.STT.APIKey = v
	}
	if v := os.Getenv("OMNI_TTS_API_KEY"); v != "" {
		cfg.Speech.TTS.APIKey = v
	}
	if v := os.Getenv("OMNI_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("OMNI_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("OMNI_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("OMNI_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// Provider returns the provider config with the given name.
func (c *LLMConfig) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
