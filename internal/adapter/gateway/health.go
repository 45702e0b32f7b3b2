package gateway

import (
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"omni-agent/internal/domain"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Memory        bool          `json:"memory_enabled"`
	MCP           bool          `json:"mcp_initialized"`
	Counters      CounterStatus `json:"counters"`
}

// CounterStatus reports event counters since start.
type CounterStatus struct {
	Messages    int64 `json:"messages"`
	Sessions    int64 `json:"sessions"`
	ToolCalls   int64 `json:"tool_calls"`
	ToolErrors  int64 `json:"tool_errors"`
	AgentErrors int64 `json:"agent_errors"`
	Images      int64 `json:"images"`
}

// Metrics counts bus events for the health report.
type Metrics struct {
	Messages    atomic.Int64
	Sessions    atomic.Int64
	ToolCalls   atomic.Int64
	ToolErrors  atomic.Int64
	AgentErrors atomic.Int64
	Images      atomic.Int64
}

func (m *Metrics) observe(e domain.Event) {
	switch e.Type {
	case domain.EventMessageReceived:
		m.Messages.Add(1)
	case domain.EventSessionCreated:
		m.Sessions.Add(1)
	case domain.EventToolCallCompleted:
		m.ToolCalls.Add(1)
	case domain.EventToolCallFailed:
		m.ToolCalls.Add(1)
		m.ToolErrors.Add(1)
	case domain.EventAgentError:
		m.AgentErrors.Add(1)
	case domain.EventImageGenerated:
		m.Images.Add(1)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Memory:        s.deps.Sessions != nil,
		Counters: CounterStatus{
			Messages:    s.metrics.Messages.Load(),
			Sessions:    s.metrics.Sessions.Load(),
			ToolCalls:   s.metrics.ToolCalls.Load(),
			ToolErrors:  s.metrics.ToolErrors.Load(),
			AgentErrors: s.metrics.AgentErrors.Load(),
			Images:      s.metrics.Images.Load(),
		},
	}
	if s.deps.MCP != nil {
		resp.MCP = s.deps.MCP.Status(r.Context()).Initialized
	}
	writeJSON(w, http.StatusOK, resp)
}

// originHost extracts host[:port] from a configured CORS origin.
func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}
