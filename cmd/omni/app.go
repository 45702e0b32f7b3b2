package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"omni-agent/internal/adapter/imagegen"
	"omni-agent/internal/adapter/llm"
	"omni-agent/internal/adapter/retrieval"
	"omni-agent/internal/adapter/speech"
	"omni-agent/internal/adapter/store"
	"omni-agent/internal/adapter/tool"
	"omni-agent/internal/domain"
	"omni-agent/internal/infra/config"
	"omni-agent/internal/usecase/agent"
	"omni-agent/internal/usecase/chat"
	"omni-agent/internal/usecase/eventbus"
	"omni-agent/internal/usecase/graph"
	"omni-agent/internal/usecase/memory"
	"omni-agent/internal/usecase/router"
	"omni-agent/internal/usecase/toolcall"
)

const tokenEncoding = "cl100k_base"

// app holds the wired runtime shared by serve and chat.
type app struct {
	cfg *config.Config
	log *slog.Logger
	bus *eventbus.Bus

	// sessions is nil when memory is disabled.
	sessions  domain.SessionStore
	llm       domain.LLMProvider
	model     string
	tools     *tool.Registry
	mcp       *tool.MCPService
	images    *imagegen.FileStore
	retriever domain.Retriever
	stt       domain.SpeechToText
	tts       domain.TextToSpeech

	chat  *chat.Service
	voice *chat.Service

	closers []func() error
}

// newApp builds every component from cfg. The agent graphs are compiled
// eagerly so wiring errors surface at startup.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. Event bus
	a.bus = eventbus.New(log)
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	// 2. Session store
	a.sessions, err = openStore(cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	if a.sessions != nil {
		a.closers = append(a.closers, a.sessions.Close)
	}

	// 3. LLM providers
	a.llm, _, err = llm.Build(ctx, cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.model = defaultProvider(cfg.LLM).Model

	// 4. Built-in tools
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}

	// 5. MCP servers. Connection failures are not fatal: the maintenance
	// job retries and the graph runs without MCP tools meanwhile.
	a.mcp, err = tool.NewMCPService(tool.NewMCPConfigFile(cfg.MCP.ConfigFile), tool.MCPOptions{
		ConnectTimeout: cfg.MCP.ConnectTimeout,
		CallTimeout:    cfg.Tools.CallTimeout,
		CallsPerMinute: cfg.Tools.MCPCallsPerMin,
		Logger:         log,
		Bus:            a.bus,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}
	a.closers = append(a.closers, a.mcp.Close)
	if err := a.mcp.Initialize(ctx); err != nil {
		log.Warn("mcp initialization failed, continuing without MCP tools", "error", err)
	}

	// 6. Retrieval and speech
	a.initRetrieval()
	a.initSpeech()

	// 7. Turn services
	mem := memory.New(a.sessions, memory.Options{
		HistoryLimit: cfg.Agents.HistoryLimit,
		Logger:       log,
		Bus:          a.bus,
	})
	a.closers = append(a.closers, mem.Close)
	a.chat = chat.NewService(mem, a.graphBuilder(false), log, a.bus)
	a.voice = chat.NewService(mem, a.graphBuilder(true), log, a.bus)
	a.mcp.OnChange(func() {
		a.chat.Invalidate()
		a.voice.Invalidate()
	})

	if err := a.chat.Warm(ctx); err != nil {
		return nil, fmt.Errorf("chat graph: %w", err)
	}
	if err := a.voice.Warm(ctx); err != nil {
		return nil, fmt.Errorf("voice graph: %w", err)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) initTools(ctx context.Context) error {
	a.tools = tool.NewRegistry(a.log)
	if err := a.tools.Register(tool.NewTimeTool()); err != nil {
		return err
	}

	if a.cfg.Tools.SearchBackend == "searxng" {
		searcher := tool.NewSearXNG(a.cfg.Tools.SearXNGURL, a.log)
		if err := a.tools.Register(tool.NewWebSearchTool(searcher, a.cfg.Tools.SearchCacheTTL, a.log)); err != nil {
			return err
		}
	}

	if !a.cfg.Image.Enabled {
		return nil
	}
	apiKey := a.cfg.Image.APIKey
	if apiKey == "" {
		apiKey = providerKey(a.cfg.LLM, "gemini")
	}
	if apiKey == "" {
		a.log.Warn("image generation enabled but no API key is configured, image agent disabled")
		return nil
	}
	files, err := imagegen.NewFileStore(a.cfg.Image.Dir, a.log)
	if err != nil {
		return err
	}
	gen, err := imagegen.NewGeminiGenerator(ctx, apiKey, a.cfg.Image.Model, files, a.log)
	if err != nil {
		return err
	}
	a.images = files
	return a.tools.Register(tool.NewImageTool(gen, a.bus, a.log))
}

func (a *app) initRetrieval() {
	rc := a.cfg.Retrieval
	if !rc.Enabled {
		return
	}
	client := llm.NewHTTPClient(a.cfg.LLM)
	embedder := retrieval.NewCachedEmbedder(retrieval.NewOllamaEmbedder(
		retrieval.WithOllamaBaseURL(rc.EmbeddingURL),
		retrieval.WithOllamaModel(rc.EmbeddingModel),
		retrieval.WithOllamaDimensions(rc.EmbeddingDims),
		retrieval.WithOllamaClient(client),
	), rc.CacheSize)
	a.retriever = retrieval.NewQdrantRetriever(rc.QdrantURL, rc.QdrantAPIKey, rc.Collection, embedder, client, a.log)
}

func (a *app) initSpeech() {
	client := &http.Client{Timeout: a.cfg.LLM.Timeout}
	if a.cfg.Speech.STT.APIKey != "" {
		a.stt = speech.NewTranscriber(a.cfg.Speech.STT, client, a.log)
	}
	if a.cfg.Speech.TTS.APIKey != "" {
		a.tts = speech.NewElevenLabs(a.cfg.Speech.TTS, client, a.log)
	}
}

// graphBuilder returns the BuildFunc for the chat or voice graph. It reads
// the current MCP tool set on every call, so an Invalidate after an MCP
// change rebinds the tools.
func (a *app) graphBuilder(voice bool) chat.BuildFunc {
	return func(context.Context) (*graph.Graph, error) {
		var mcpTools []domain.Tool
		if a.mcp != nil && a.mcp.Initialized() {
			mcpTools = a.mcp.Tools()
		}
		return buildGraph(graphDeps{
			cfg:       a.cfg,
			llm:       a.llm,
			model:     a.model,
			toolbox:   agent.Toolbox{Builtin: a.tools.Map(), MCP: mcpTools},
			retriever: a.retriever,
			voice:     voice,
			log:       a.log,
			bus:       a.bus,
		})
	}
}

type graphDeps struct {
	cfg       *config.Config
	llm       domain.LLMProvider
	model     string
	toolbox   agent.Toolbox
	retriever domain.Retriever
	voice     bool
	log       *slog.Logger
	bus       domain.EventBus
}

// buildGraph compiles router -> agents for one flavour. Agents whose
// collaborators are not configured are left out of the route set.
func buildGraph(d graphDeps) (*graph.Graph, error) {
	cfg := d.cfg
	llmCfg := agent.LLMConfig{
		Model:       d.model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		RetryDelay:  cfg.LLM.RetryDelay,
	}

	targets := slices.Clone(graph.ChatAgents)
	if d.voice {
		targets = slices.Clone(graph.VoiceAgents)
	}
	if _, ok := d.toolbox.Builtin[agent.ImageToolName]; !ok {
		targets = slices.DeleteFunc(targets, func(t domain.AgentType) bool { return t == domain.AgentImage })
	}
	if d.retriever != nil && !d.voice {
		targets = append(targets, domain.AgentRAG)
	}

	factory := agent.Factory{
		LLM: d.llm,
		Options: agent.Options{
			LLM:     llmCfg,
			History: agent.NewHistoryWindow(cfg.Agents.HistoryLimit, cfg.LLM.ContextLength-cfg.LLM.MaxTokens, agent.NewTiktokenCounter(tokenEncoding, d.log)),
			Tools: toolcall.Options{
				MaxCalls:    cfg.Agents.MaxToolCalls,
				CallTimeout: cfg.Tools.CallTimeout,
				Logger:      d.log,
				Bus:         d.bus,
			},
			Delegation:    cfg.Agents.Delegation,
			ResultPreview: cfg.Agents.ResultPreview,
			Logger:        d.log,
			Bus:           d.bus,
		},
		Retriever: d.retriever,
		RetrieveK: cfg.Retrieval.K,
	}

	agents := make([]domain.Agent, 0, len(targets))
	for _, t := range targets {
		ag, err := factory.Build(t, d.toolbox)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrGraphCompile, err)
		}
		agents = append(agents, ag)
	}

	r := router.New(d.llm, router.Options{
		LLM:          llmCfg,
		Targets:      targets,
		HistoryLimit: cfg.Agents.HistoryLimit,
		Logger:       d.log,
		Bus:          d.bus,
	})
	r.SetTools(d.toolbox.For(domain.AgentRouter))

	return graph.NewAgentGraph(graph.AgentGraphConfig{
		Router:     r,
		Agents:     agents,
		Delegation: cfg.Agents.Delegation,
		StepBudget: cfg.Agents.StepBudget,
		Logger:     d.log,
		Bus:        d.bus,
	})
}

// openStore returns nil, nil when memory is disabled.
func openStore(cfg config.MemoryConfig) (domain.SessionStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	default:
		s, err := store.NewSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func defaultProvider(cfg config.LLMConfig) config.ProviderConfig {
	for _, p := range cfg.Providers {
		if p.Name == cfg.DefaultProvider {
			return p
		}
	}
	if len(cfg.Providers) > 0 {
		return cfg.Providers[0]
	}
	return config.ProviderConfig{}
}

func providerKey(cfg config.LLMConfig, typ string) string {
	for _, p := range cfg.Providers {
		if p.Type == typ && p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}
