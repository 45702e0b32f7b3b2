// Package gateway is the HTTP and WebSocket transport: chat, uploads,
// transcription, MCP configuration, session history, the voice loop and a
// live event stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"omni-agent/internal/adapter/tool"
	"omni-agent/internal/domain"
	"omni-agent/internal/infra/config"
	"omni-agent/internal/infra/middleware"
	"omni-agent/internal/usecase/chat"
)

// ChatProcessor runs one conversation turn.
type ChatProcessor interface {
	Process(ctx context.Context, in chat.Input) (chat.Output, error)
}

// DocumentReader extracts the text of an uploaded document.
type DocumentReader interface {
	ReadFile(path string) (string, error)
}

// MCPManager is the MCP service surface the transport needs.
type MCPManager interface {
	Initialize(ctx context.Context) error
	Configs() map[string]tool.MCPServerConfig
	AddConfig(ctx context.Context, name string, cfg tool.MCPServerConfig) error
	DeleteConfig(ctx context.Context, name string) error
	ListTools(ctx context.Context) ([]domain.ToolInfo, error)
	Status(ctx context.Context) tool.MCPStatus
}

// Deps are the collaborators behind the endpoints. Nil optional fields
// disable the endpoints that need them.
type Deps struct {
	Chat  ChatProcessor
	Voice ChatProcessor // defaults to Chat
	MCP   MCPManager
	// Sessions is nil when memory is disabled.
	Sessions domain.SessionStore
	STT      domain.SpeechToText
	TTS      domain.TextToSpeech
	Bus      domain.EventBus
	// PDF is nil when uploaded PDFs are passed by URL only.
	PDF DocumentReader

	ImagesDir  string
	UploadsDir string
	SampleRate int
}

// eventClient is one /ws/events subscriber.
type eventClient struct {
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (c *eventClient) close() { c.closeOnce.Do(func() { close(c.done) }) }

// Server serves the HTTP API.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	logger *slog.Logger

	httpSrv   *http.Server
	boundAddr atomic.Value // string
	started   time.Time
	metrics   *Metrics

	clients  sync.Map // uint64 -> *eventClient
	nextID   atomic.Uint64
	unsubAll func()
}

// NewServer creates a server. Routes are built by Handler.
func NewServer(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if deps.Voice == nil {
		deps.Voice = deps.Chat
	}
	if deps.SampleRate <= 0 {
		deps.SampleRate = 16000
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	return &Server{cfg: cfg, deps: deps, logger: logger, started: time.Now(), metrics: &Metrics{}}
}

// Handler returns the routed handler wrapped in the middleware chain. ctx
// bounds the rate limiter's cleanup goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat-with-image", s.handleChatWithImage)
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /read-pdf", s.handleReadPDF)

	mux.HandleFunc("GET /mcp/configs", s.handleMCPConfigs)
	mux.HandleFunc("POST /mcp/configs", s.handleMCPAdd)
	mux.HandleFunc("DELETE /mcp/configs/{name}", s.handleMCPDelete)
	mux.HandleFunc("GET /mcp/tools", s.handleMCPTools)
	mux.HandleFunc("GET /mcp/status", s.handleMCPStatus)

	mux.HandleFunc("POST /memory/sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /memory/sessions", s.handleSessionList)
	mux.HandleFunc("GET /memory/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("PUT /memory/sessions/{id}", s.handleSessionUpdate)
	mux.HandleFunc("DELETE /memory/sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("GET /memory/sessions/{id}/messages", s.handleSessionMessages)
	mux.HandleFunc("GET /memory/sessions/{id}/context", s.handleSessionContext)

	mux.HandleFunc("GET /ws/conversation", s.handleConversation)
	mux.HandleFunc("GET /ws/events", s.handleEvents)

	if s.deps.ImagesDir != "" {
		mux.Handle("GET /generated_images/", http.StripPrefix("/generated_images/", http.FileServer(http.Dir(s.deps.ImagesDir))))
	}
	if s.deps.UploadsDir != "" {
		mux.Handle("GET /uploaded_files/", http.StripPrefix("/uploaded_files/", http.FileServer(http.Dir(s.deps.UploadsDir))))
	}

	mws := []func(http.Handler) http.Handler{
		middleware.Logging(s.logger),
		middleware.SecurityHeaders,
		middleware.CORS(s.cfg.CORSOrigins),
	}
	if s.cfg.RateLimitRPM > 0 {
		mws = append(mws, middleware.RateLimit(ctx, s.cfg.RateLimitRPM, s.cfg.RateLimitBurst))
	}
	return middleware.Chain(mux, mws...)
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	s.subscribe()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		_ = s.Stop(shutdownCtx)
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 5 * time.Second
}

// Stop closes event streams and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}
	s.clients.Range(func(key, value any) bool {
		c := value.(*eventClient)
		c.close()
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// BoundAddr returns the listening address once Start has bound it.
func (s *Server) BoundAddr() string {
	v, _ := s.boundAddr.Load().(string)
	return v
}

// subscribe forwards bus events to /ws/events clients and feeds the
// health counters.
func (s *Server) subscribe() {
	if s.deps.Bus == nil {
		return
	}
	s.unsubAll = s.deps.Bus.SubscribeAll(func(_ context.Context, event domain.Event) {
		s.metrics.observe(event)

		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		frame := Frame{Type: FrameTypeEvent, Payload: payload}
		s.clients.Range(func(_, value any) bool {
			c := value.(*eventClient)
			select {
			case c.sendCh <- frame:
			default:
				s.logger.Warn("gateway: dropped event for slow client", "event", event.Type)
			}
			return true
		})
	})
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	patterns := []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"}
	for _, o := range s.cfg.CORSOrigins {
		if host := originHost(o); host != "" {
			patterns = append(patterns, host)
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is not available")
		return
	}
	ws, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	id := s.nextID.Add(1)
	c := &eventClient{ws: ws, sendCh: make(chan Frame, 64), done: make(chan struct{})}
	s.clients.Store(id, c)
	s.logger.Info("event stream connected", "conn_id", id)

	go s.writeLoop(c)

	// Clients only listen; reading detects the close.
	ctx := ws.CloseRead(r.Context())
	select {
	case <-ctx.Done():
	case <-c.done:
	}

	c.close()
	s.clients.Delete(id)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("event stream disconnected", "conn_id", id)
}

func (s *Server) writeLoop(c *eventClient) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, c.ws, frame)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}
