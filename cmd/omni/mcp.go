package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"omni-agent/internal/adapter/tool"
	"omni-agent/internal/domain"
	"omni-agent/internal/infra/logger"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP servers",
		Long: `List, add and remove the MCP servers in mcp.config_file.

A running server picks up file edits on its next MCP refresh; changes made
through the HTTP API apply immediately.`,
	}
	cmd.AddCommand(
		newMCPListCmd(root),
		newMCPAddCmd(root),
		newMCPRemoveCmd(root),
		newMCPToolsCmd(root),
	)
	return cmd
}

func newMCPListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			configs, err := tool.NewMCPConfigFile(cfg.MCP.ConfigFile).Load()
			if err != nil {
				return err
			}
			return printMCPConfigs(cmd.OutOrStdout(), configs)
		},
	}
}

func printMCPConfigs(w io.Writer, configs map[string]tool.MCPServerConfig) error {
	if len(configs) == 0 {
		_, err := fmt.Fprintln(w, "No MCP servers configured.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTRANSPORT\tTARGET")
	for _, name := range slices.Sorted(maps.Keys(configs)) {
		c := configs[name]
		target := c.URL
		if c.Transport == tool.TransportStdio {
			target = strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, c.Transport, target)
	}
	return tw.Flush()
}

func newMCPAddCmd(root *rootOptions) *cobra.Command {
	var (
		c       tool.MCPServerConfig
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an MCP server",
		Long: `Add an MCP server entry.

Examples:
  # stdio server
  omni mcp add time --command uvx --arg mcp-server-time

  # remote server
  omni mcp add docs --url https://example.com/mcp --transport streamable_http`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := addMCPServer(tool.NewMCPConfigFile(cfg.MCP.ConfigFile), args[0], c, replace); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added MCP server %q.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&c.Transport, "transport", "", "stdio, sse, http or streamable_http (default: sse with --url, stdio otherwise)")
	cmd.Flags().StringVar(&c.Command, "command", "", "executable for stdio servers")
	cmd.Flags().StringArrayVar(&c.Args, "arg", nil, "argument for the command (repeatable)")
	cmd.Flags().StringVar(&c.URL, "url", "", "endpoint for remote servers")
	cmd.Flags().StringToStringVar(&c.Env, "env", nil, "environment for stdio servers, KEY=VALUE")
	cmd.Flags().StringToStringVar(&c.Headers, "header", nil, "HTTP header for remote servers, NAME=VALUE")
	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite an existing entry with the same name")
	return cmd
}

func addMCPServer(file *tool.MCPConfigFile, name string, c tool.MCPServerConfig, replace bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.NewDomainError("mcp.add", domain.ErrInvalidInput, "server name is required")
	}
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return err
	}
	configs, err := file.Load()
	if err != nil {
		return err
	}
	if _, exists := configs[name]; exists && !replace {
		return fmt.Errorf("mcp server %q already exists (use --replace)", name)
	}
	configs[name] = c
	return file.Save(configs)
}

func newMCPRemoveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove an MCP server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := removeMCPServer(tool.NewMCPConfigFile(cfg.MCP.ConfigFile), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed MCP server %q.\n", args[0])
			return nil
		},
	}
}

func removeMCPServer(file *tool.MCPConfigFile, name string) error {
	configs, err := file.Load()
	if err != nil {
		return err
	}
	if _, ok := configs[name]; !ok {
		return domain.NewDomainError("mcp.remove", domain.ErrNotFound, fmt.Sprintf("mcp server %q", name))
	}
	delete(configs, name)
	return file.Save(configs)
}

func newMCPToolsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Connect to the configured servers and list their tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			svc, err := tool.NewMCPService(tool.NewMCPConfigFile(cfg.MCP.ConfigFile), tool.MCPOptions{
				ConnectTimeout: cfg.MCP.ConnectTimeout,
				CallTimeout:    cfg.Tools.CallTimeout,
				Logger:         logger.Discard(),
			})
			if err != nil {
				return err
			}
			defer svc.Close()
			return listMCPTools(cmd.Context(), cmd.OutOrStdout(), svc)
		},
	}
}

type toolLister interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]domain.ToolInfo, error)
}

func listMCPTools(ctx context.Context, w io.Writer, svc toolLister) error {
	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("connect mcp servers: %w", err)
	}
	tools, err := svc.ListTools(ctx)
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		_, err := fmt.Fprintln(w, "No MCP tools available.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, firstLine(t.Description))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return s
}
