package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"omni-agent/internal/infra/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "config.yaml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "omni",
		Short: "Multi-agent conversational assistant",
		Long: `omni routes each message to a specialised agent (assistant, math,
research, planning, image, documents, voice) and answers over HTTP,
WebSocket or the terminal.

Configuration is read from ./config.yaml (or --config / OMNI_CONFIG).
OMNI_* environment variables override file values.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default ./config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newMCPCmd(opts),
		newSessionsCmd(opts),
		newDoctorCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// path resolves the config file: flag, then OMNI_CONFIG, then the default.
func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	if p := os.Getenv("OMNI_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.path())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "omni %s\n", version)
		},
	}
}
