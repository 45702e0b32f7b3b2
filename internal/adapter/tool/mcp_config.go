package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"omni-agent/internal/domain"
)

// MCP transports.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportHTTP           = "http"
	TransportStreamableHTTP = "streamable_http"
)

// MCPServerConfig describes one MCP server entry of the config file.
type MCPServerConfig struct {
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// WithDefaults fills the transport: sse when a URL is set, stdio otherwise.
func (c MCPServerConfig) WithDefaults() MCPServerConfig {
	if c.Transport == "" {
		if c.URL != "" {
			c.Transport = TransportSSE
		} else {
			c.Transport = TransportStdio
		}
	}
	return c
}

const mcpServerSchema = `{
	"type": "object",
	"properties": {
		"transport": {"type": "string", "enum": ["stdio", "sse", "http", "streamable_http"]},
		"command": {"type": "string"},
		"args": {"type": "array", "items": {"type": "string"}},
		"url": {"type": "string"},
		"env": {"type": "object", "additionalProperties": {"type": "string"}},
		"headers": {"type": "object", "additionalProperties": {"type": "string"}}
	},
	"required": ["transport"]
}`

// Validate checks the entry shape and the fields its transport needs.
func (c MCPServerConfig) Validate() error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := validateAgainst([]byte(mcpServerSchema), doc); err != nil {
		return domain.NewDomainError("mcp.config", domain.ErrInvalidInput, err.Error())
	}

	switch c.Transport {
	case TransportStdio:
		if err := RequireField("command", c.Command); err != nil {
			return domain.NewDomainError("mcp.config", domain.ErrInvalidInput, err.Error())
		}
	default:
		if err := errors.Join(RequireField("url", c.URL), ValidateURL("url", c.URL)); err != nil {
			return domain.NewDomainError("mcp.config", domain.ErrInvalidInput, err.Error())
		}
	}
	return nil
}

// ParseMCPConfigs decodes a config document. A legacy {"mcpServers": {...}}
// wrapper is flattened and missing transports get their defaults. The
// second return reports whether the document was rewritten.
func ParseMCPConfigs(data []byte) (map[string]MCPServerConfig, bool, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]MCPServerConfig{}, true, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("parse mcp config: %w", err)
	}

	changed := false
	if inner, ok := raw["mcpServers"]; ok {
		var flat map[string]json.RawMessage
		if err := json.Unmarshal(inner, &flat); err == nil {
			raw = flat
			changed = true
		}
	}

	out := make(map[string]MCPServerConfig, len(raw))
	for name, entry := range raw {
		var c MCPServerConfig
		if err := json.Unmarshal(entry, &c); err != nil {
			return nil, false, fmt.Errorf("parse mcp server %q: %w", name, err)
		}
		if c.Transport == "" {
			changed = true
		}
		out[name] = c.WithDefaults()
	}
	return out, changed, nil
}

// MCPConfigFile persists server configs as a flat JSON map.
type MCPConfigFile struct {
	path string
}

// NewMCPConfigFile binds the config store to path.
func NewMCPConfigFile(path string) *MCPConfigFile { return &MCPConfigFile{path: path} }

// Path returns the file location.
func (f *MCPConfigFile) Path() string { return f.path }

// Load reads the file, creating an empty one when missing, and writes back
// a normalized document when the wrapper or defaults were applied.
func (f *MCPConfigFile) Load() (map[string]MCPServerConfig, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		empty := map[string]MCPServerConfig{}
		return empty, f.Save(empty)
	}
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}

	configs, changed, err := ParseMCPConfigs(data)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := f.Save(configs); err != nil {
			return nil, err
		}
	}
	return configs, nil
}

// Save writes configs atomically.
func (f *MCPConfigFile) Save(configs map[string]MCPServerConfig) error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create mcp config dir: %w", err)
		}
	}
	if configs == nil {
		configs = map[string]MCPServerConfig{}
	}
	data, err := json.MarshalIndent(maps.Clone(configs), "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write mcp config: %w", err)
	}
	return os.Rename(tmp, f.path)
}
