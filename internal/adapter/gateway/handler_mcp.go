package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"omni-agent/internal/adapter/tool"
	"omni-agent/internal/domain"
)

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) requireMCP(w http.ResponseWriter) bool {
	if s.deps.MCP == nil {
		writeError(w, http.StatusServiceUnavailable, "MCP service is not configured")
		return false
	}
	return true
}

func (s *Server) handleMCPConfigs(w http.ResponseWriter, _ *http.Request) {
	if !s.requireMCP(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.MCP.Configs())
}

func (s *Server) handleMCPAdd(w http.ResponseWriter, r *http.Request) {
	if !s.requireMCP(w) {
		return
	}
	var body map[string]json.RawMessage
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if inner, ok := body["mcpServers"]; ok {
		body = nil
		if err := json.Unmarshal(inner, &body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid MCP configuration payload")
			return
		}
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid MCP configuration payload")
		return
	}

	names := make([]string, 0, len(body))
	configs := make(map[string]tool.MCPServerConfig, len(body))
	for name, raw := range body {
		var cfg tool.MCPServerConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid MCP configuration for "+name)
			return
		}
		names = append(names, name)
		configs[name] = cfg
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.deps.MCP.AddConfig(r.Context(), name, configs[name]); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, domain.SanitizeError(err))
				return
			}
			s.logger.Error("mcp config add failed", "server", name, "error", err)
			writeError(w, http.StatusInternalServerError, domain.SanitizeError(err))
			return
		}
	}
	writeJSON(w, http.StatusCreated, s.deps.MCP.Configs())
}

func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireMCP(w) {
		return
	}
	name := r.PathValue("name")
	if err := s.deps.MCP.DeleteConfig(r.Context(), name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "MCP configuration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, domain.SanitizeError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMCPTools(w http.ResponseWriter, r *http.Request) {
	if !s.requireMCP(w) {
		return
	}
	if err := s.deps.MCP.Initialize(r.Context()); err != nil {
		s.logger.Debug("mcp initialize from tools listing failed", "error", err)
	}

	tools, err := s.deps.MCP.ListTools(r.Context())
	if err == nil && len(tools) > 0 {
		out := make([]toolSummary, 0, len(tools))
		for _, t := range tools {
			out = append(out, toolSummary{Name: t.Name, Description: t.Description})
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	configs := s.deps.MCP.Configs()
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]toolSummary, 0, len(names))
	for _, name := range names {
		out = append(out, toolSummary{Name: name, Description: "MCP tool: " + name + " (not initialized)"})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMCPStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMCP(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.MCP.Status(r.Context()))
}
