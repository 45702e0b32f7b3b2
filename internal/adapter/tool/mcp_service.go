package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"omni-agent/internal/domain"
)

const (
	defaultMCPConnectTimeout = 30 * time.Second
	defaultMCPCallTimeout    = 30 * time.Second
	mcpClientName            = "omni-agent"
	mcpClientVersion         = "1.0.0"
)

// mcpClient abstracts the MCP client for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// ConnectFunc opens and initializes a client for one server.
type ConnectFunc func(ctx context.Context, name string, cfg MCPServerConfig) (mcpClient, error)

// MCPOptions configures an MCPService.
type MCPOptions struct {
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	CallsPerMinute int
	Logger         *slog.Logger
	Bus            domain.EventBus

	connect ConnectFunc
}

// MCPStatus is the diagnostic snapshot served by the status endpoint.
type MCPStatus struct {
	Initialized           bool                       `json:"initialized"`
	ConfigsCount          int                        `json:"configs_count"`
	Configs               map[string]MCPServerConfig `json:"configs"`
	HasClient             bool                       `json:"has_client"`
	InitializationAttempt int                        `json:"initialization_attempt"`
	ToolsCount            int                        `json:"tools_count"`
	ToolNames             []string                   `json:"tool_names"`
	ServerErrors          map[string]string          `json:"server_errors,omitempty"`
}

// MCPService owns the connections to the configured MCP servers. All
// lifecycle operations (initialize, add, delete, close) run under one lock.
// Each rebuild produces a new client generation; the previous generation is
// closed once its in-flight calls have finished.
type MCPService struct {
	file *MCPConfigFile
	opts MCPOptions

	mu           sync.Mutex // lifecycle
	configs      map[string]MCPServerConfig
	attempts     int
	serverErrors map[string]string

	stateMu     sync.RWMutex
	current     *generation
	initialized bool

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int

	retired sync.WaitGroup
}

// NewMCPService loads the config file. Servers are not contacted until
// Initialize is called.
func NewMCPService(file *MCPConfigFile, opts MCPOptions) (*MCPService, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultMCPConnectTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultMCPCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.connect == nil {
		opts.connect = connectServer
	}

	configs, err := file.Load()
	if err != nil {
		return nil, domain.NewDomainError("mcp.load", domain.ErrConfigLoad, err.Error())
	}
	return &MCPService{
		file:         file,
		opts:         opts,
		configs:      configs,
		serverErrors: map[string]string{},
		listeners:    map[int]func(){},
	}, nil
}

// Initialize connects every configured server concurrently and discovers
// their tools. It is idempotent; it succeeds when at least one server
// connects or when no servers are configured.
func (s *MCPService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.isInitialized() {
		s.mu.Unlock()
		return nil
	}
	err := s.buildLocked(ctx)
	s.mu.Unlock()

	if err == nil {
		s.notify(ctx)
	}
	return err
}

// Initialized reports whether a client generation is live.
func (s *MCPService) Initialized() bool { return s.isInitialized() }

func (s *MCPService) isInitialized() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.initialized
}

func (s *MCPService) buildLocked(ctx context.Context) error {
	s.attempts++
	logger := s.opts.Logger

	names := slices.Sorted(maps.Keys(s.configs))
	conns := make([]mcpClient, len(names))
	toolLists := make([][]mcp.Tool, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		cfg := s.configs[name]
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
			defer cancel()

			c, err := s.opts.connect(cctx, name, cfg)
			if err != nil {
				errs[i] = err
				return nil
			}
			res, err := c.ListTools(cctx, mcp.ListToolsRequest{})
			if err != nil {
				_ = c.Close()
				errs[i] = fmt.Errorf("list tools: %w", err)
				return nil
			}
			conns[i] = c
			toolLists[i] = res.Tools
			return nil
		})
	}
	_ = g.Wait()

	gen := newGeneration()
	s.serverErrors = map[string]string{}
	var failed []error
	for i, name := range names {
		if errs[i] != nil {
			logger.Warn("mcp server unavailable", "server", name, "error", errs[i])
			s.serverErrors[name] = errs[i].Error()
			failed = append(failed, fmt.Errorf("%s: %w", name, errs[i]))
			continue
		}
		gen.clients[name] = conns[i]
		for _, t := range toolLists[i] {
			if gen.has(t.Name) {
				logger.Warn("duplicate mcp tool name skipped", "server", name, "tool", t.Name)
				continue
			}
			var tool domain.Tool = newMCPTool(name, t, gen, s.opts.CallTimeout, logger)
			if wrapped, err := WithSchemaValidation(tool); err == nil {
				tool = wrapped
			} else {
				logger.Debug("mcp tool schema not validated", "tool", t.Name, "error", err)
			}
			gen.tools = append(gen.tools, WithRateLimit(tool, s.opts.CallsPerMinute))
		}
		logger.Info("mcp server connected", "server", name, "tools", len(toolLists[i]))
	}

	if len(names) > 0 && len(gen.clients) == 0 {
		return domain.NewDomainError("mcp.initialize", domain.ErrMCPNotInitialized, errors.Join(failed...).Error())
	}

	s.swap(gen, true)
	logger.Info("mcp initialized", "servers", len(gen.clients), "tools", len(gen.tools), "attempt", s.attempts)
	return nil
}

// swap installs gen as the live generation and retires the previous one.
func (s *MCPService) swap(gen *generation, initialized bool) {
	s.stateMu.Lock()
	old := s.current
	s.current = gen
	s.initialized = initialized
	s.stateMu.Unlock()

	if old != nil {
		s.retired.Add(1)
		go func() {
			defer s.retired.Done()
			old.retire(s.opts.Logger)
		}()
	}
}

// Tools returns the live MCP tools, or nil before initialization.
func (s *MCPService) Tools() []domain.Tool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.current == nil {
		return nil
	}
	return slices.Clone(s.current.tools)
}

// ListTools implements domain.ToolProvider.
func (s *MCPService) ListTools(context.Context) ([]domain.ToolInfo, error) {
	if !s.isInitialized() {
		return nil, domain.ErrMCPNotInitialized
	}
	tools := s.Tools()
	out := make([]domain.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info := domain.ToolInfo{Name: t.Name(), Description: t.Description(), Schema: t.Schema().Parameters}
		if st, ok := serverOf(t); ok {
			info.Server = st
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Invoke implements domain.ToolProvider.
func (s *MCPService) Invoke(ctx context.Context, name string, args json.RawMessage) (*domain.ToolResult, error) {
	for _, t := range s.Tools() {
		if t.Name() == name {
			return t.Execute(ctx, args)
		}
	}
	return nil, domain.NewDomainError("mcp.invoke", domain.ErrToolNotFound, name)
}

// Configs returns a copy of the server configs.
func (s *MCPService) Configs() map[string]MCPServerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.configs)
}

// AddConfig validates and stores a server entry, persists the file and
// rebuilds the client set. A rebuild in which no server connects leaves the
// service uninitialized; the config change itself is kept.
func (s *MCPService) AddConfig(ctx context.Context, name string, cfg MCPServerConfig) error {
	if err := RequireField("name", name); err != nil {
		return domain.NewDomainError("mcp.add", domain.ErrInvalidInput, err.Error())
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.mutate(ctx, "mcp.add", func(configs map[string]MCPServerConfig) error {
		configs[name] = cfg
		return nil
	})
}

// DeleteConfig removes a server entry and rebuilds the client set.
func (s *MCPService) DeleteConfig(ctx context.Context, name string) error {
	return s.mutate(ctx, "mcp.delete", func(configs map[string]MCPServerConfig) error {
		if _, ok := configs[name]; !ok {
			return domain.NewDomainError("mcp.delete", domain.ErrNotFound, name)
		}
		delete(configs, name)
		return nil
	})
}

func (s *MCPService) mutate(ctx context.Context, op string, change func(map[string]MCPServerConfig) error) error {
	s.mu.Lock()
	next := maps.Clone(s.configs)
	if err := change(next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.file.Save(next); err != nil {
		s.mu.Unlock()
		return domain.WrapOp(op, err)
	}
	s.configs = next

	s.swap(nil, false)
	if err := s.buildLocked(ctx); err != nil {
		s.opts.Logger.Warn("mcp rebuild failed", "op", op, "error", err)
	}
	s.mu.Unlock()

	s.notify(ctx)
	return nil
}

// Status reports the service state.
func (s *MCPService) Status(context.Context) MCPStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	st := MCPStatus{
		Initialized:           s.initialized,
		ConfigsCount:          len(s.configs),
		Configs:               maps.Clone(s.configs),
		HasClient:             s.current != nil && len(s.current.clients) > 0,
		InitializationAttempt: s.attempts,
		ToolNames:             []string{},
		ServerErrors:          maps.Clone(s.serverErrors),
	}
	if s.current != nil {
		for _, t := range s.current.tools {
			st.ToolNames = append(st.ToolNames, t.Name())
		}
	}
	sort.Strings(st.ToolNames)
	st.ToolsCount = len(st.ToolNames)
	return st
}

// OnChange registers fn to run after every successful initialization or
// config change. It returns an unsubscribe function.
func (s *MCPService) OnChange(fn func()) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *MCPService) notify(ctx context.Context) {
	s.listenersMu.Lock()
	fns := slices.Collect(maps.Values(s.listeners))
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(ctx, domain.NewEvent(domain.EventMCPReloaded, "", map[string]any{
			"initialized": s.isInitialized(),
			"tools":       len(s.Tools()),
		}))
	}
}

// Close retires the live generation and waits for every retired
// generation to shut down.
func (s *MCPService) Close() error {
	s.mu.Lock()
	s.swap(nil, false)
	s.mu.Unlock()
	s.retired.Wait()
	return nil
}

// generation is one set of connected clients and the tools bound to them.
type generation struct {
	mu       sync.RWMutex
	retired  bool
	inflight sync.WaitGroup
	clients  map[string]mcpClient
	tools    []domain.Tool
	names    map[string]bool
}

func newGeneration() *generation {
	return &generation{clients: map[string]mcpClient{}, names: map[string]bool{}}
}

func (g *generation) has(name string) bool {
	if g.names[name] {
		return true
	}
	g.names[name] = true
	return false
}

// acquire registers an in-flight call; it fails once the generation is retired.
func (g *generation) acquire() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.retired {
		return false
	}
	g.inflight.Add(1)
	return true
}

func (g *generation) release() { g.inflight.Done() }

func (g *generation) retire(logger *slog.Logger) {
	g.mu.Lock()
	g.retired = true
	g.mu.Unlock()

	g.inflight.Wait()
	for name, c := range g.clients {
		if err := c.Close(); err != nil {
			logger.Warn("mcp server close error", "server", name, "error", err)
		}
	}
}

// connectServer opens the transport named by cfg and performs the MCP
// initialize handshake.
func connectServer(ctx context.Context, name string, cfg MCPServerConfig) (mcpClient, error) {
	var c *mcpclient.Client
	var err error

	switch cfg.Transport {
	case TransportStdio:
		c, err = mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case TransportSSE:
		c, err = mcpclient.NewSSEMCPClient(cfg.URL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, fmt.Errorf("create sse client: %w", err)
		}
		if err = c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("start sse client: %w", err)
		}
	case TransportHTTP, TransportStreamableHTTP:
		c, err = mcpclient.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
		if err != nil {
			return nil, fmt.Errorf("create http client: %w", err)
		}
		if err = c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("start http client: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: mcpClientName, Version: mcpClientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, domain.WrapOp("mcp.initialize."+name, err)
	}
	return c, nil
}

// envSlice converts a map of env vars to sorted KEY=VALUE entries.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		result = append(result, k+"="+env[k])
	}
	return result
}
