package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-agent/internal/adapter/store"
	"omni-agent/internal/adapter/tool"
	"omni-agent/internal/domain"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "omni dev\n", out.String())
}

func TestConfigPathResolution(t *testing.T) {
	o := &rootOptions{}
	t.Setenv("OMNI_CONFIG", "")
	assert.Equal(t, defaultConfigPath, o.path())

	t.Setenv("OMNI_CONFIG", "/etc/omni.yaml")
	assert.Equal(t, "/etc/omni.yaml", o.path())

	o.configPath = "custom.yaml"
	assert.Equal(t, "custom.yaml", o.path())
}

func TestMCPAddListRemove(t *testing.T) {
	file := tool.NewMCPConfigFile(filepath.Join(t.TempDir(), "mcp_config.json"))

	require.NoError(t, addMCPServer(file, "time", tool.MCPServerConfig{Command: "uvx", Args: []string{"mcp-server-time"}}, false))
	require.NoError(t, addMCPServer(file, "docs", tool.MCPServerConfig{URL: "https://example.com/mcp", Transport: tool.TransportStreamableHTTP}, false))

	configs, err := file.Load()
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, tool.TransportStdio, configs["time"].Transport)

	var out bytes.Buffer
	require.NoError(t, printMCPConfigs(&out, configs))
	assert.Contains(t, out.String(), "uvx mcp-server-time")
	assert.Contains(t, out.String(), "https://example.com/mcp")

	err = addMCPServer(file, "time", tool.MCPServerConfig{Command: "other"}, false)
	assert.ErrorContains(t, err, "already exists")
	require.NoError(t, addMCPServer(file, "time", tool.MCPServerConfig{Command: "other"}, true))

	require.NoError(t, removeMCPServer(file, "docs"))
	assert.ErrorIs(t, removeMCPServer(file, "docs"), domain.ErrNotFound)

	configs, err = file.Load()
	require.NoError(t, err)
	assert.Equal(t, "other", configs["time"].Command)
	assert.NotContains(t, configs, "docs")
}

func TestMCPAddRejectsInvalid(t *testing.T) {
	file := tool.NewMCPConfigFile(filepath.Join(t.TempDir(), "mcp_config.json"))

	assert.ErrorIs(t, addMCPServer(file, "  ", tool.MCPServerConfig{Command: "x"}, false), domain.ErrInvalidInput)
	assert.ErrorIs(t, addMCPServer(file, "bad", tool.MCPServerConfig{Transport: tool.TransportStdio}, false), domain.ErrInvalidInput)
	assert.ErrorIs(t, addMCPServer(file, "bad", tool.MCPServerConfig{Transport: tool.TransportSSE, URL: "not a url"}, false), domain.ErrInvalidInput)
}

func TestPrintMCPConfigsEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printMCPConfigs(&out, nil))
	assert.Equal(t, "No MCP servers configured.\n", out.String())
}

type fakeLister struct {
	initErr error
	tools   []domain.ToolInfo
}

func (f *fakeLister) Initialize(context.Context) error { return f.initErr }
func (f *fakeLister) ListTools(context.Context) ([]domain.ToolInfo, error) {
	return f.tools, nil
}

func TestListMCPTools(t *testing.T) {
	var out bytes.Buffer
	err := listMCPTools(context.Background(), &out, &fakeLister{tools: []domain.ToolInfo{
		{Name: "fetch", Description: "Fetch a URL.\nReturns markdown."},
	}})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "fetch")
	assert.Contains(t, out.String(), "Fetch a URL.")
	assert.NotContains(t, out.String(), "Returns markdown")

	err = listMCPTools(context.Background(), &out, &fakeLister{initErr: errors.New("refused")})
	assert.ErrorContains(t, err, "refused")
}

func TestSessionsListAndShow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	var out bytes.Buffer
	require.NoError(t, listSessions(ctx, &out, st, "", 10))
	assert.Equal(t, "No sessions.\n", out.String())

	sess, err := st.CreateSession(ctx, domain.NewSessionParams{Title: "Trip planning"})
	require.NoError(t, err)
	_, err = st.AddMessage(ctx, &domain.ChatMessage{SessionID: sess.ID, Role: domain.RoleUser, Content: "plan a trip", Type: domain.MessageText})
	require.NoError(t, err)
	_, err = st.AddMessage(ctx, &domain.ChatMessage{SessionID: sess.ID, Role: domain.RoleAssistant, Content: "Day 1: ...", Type: domain.MessageText, AgentType: "planning"})
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, listSessions(ctx, &out, st, "", 10))
	assert.Contains(t, out.String(), sess.ID)
	assert.Contains(t, out.String(), "Trip planning")

	out.Reset()
	require.NoError(t, showSession(ctx, &out, st, sess.ID, 10))
	assert.Contains(t, out.String(), "You: plan a trip")
	assert.Contains(t, out.String(), "Omni (planning): Day 1: ...")

	assert.ErrorIs(t, showSession(ctx, &out, st, "missing", 10), domain.ErrSessionNotFound)
}

func TestSessionsCommandMemoryDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory:\n  enabled: false\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "sessions", "list"})
	assert.ErrorIs(t, cmd.Execute(), domain.ErrDisabled)
}
