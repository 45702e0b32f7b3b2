package main

import (
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	tuichat "omni-agent/internal/adapter/tui/chat"
	"omni-agent/internal/infra/config"
	"omni-agent/internal/infra/logger"
)

func newChatCmd(root *rootOptions) *cobra.Command {
	var (
		sessionID    string
		imageBaseURL string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long: `Open an interactive chat over the same agents the server uses.

Conversations are stored when memory is enabled; pass --session to resume
one. Logs go to logger.output when it names a file and are discarded
otherwise, so they do not corrupt the screen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			log, logCloser, err := chatLogger(cfg.Logger)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logCloser()

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			model := tuichat.NewModel(tuichat.ModelDeps{
				Chat:         a.chat,
				Sessions:     a.sessions,
				SessionID:    sessionID,
				ModelName:    a.model,
				ImageBaseURL: imageBaseURL,
				Logger:       log,
			})
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			final, err := p.Run()
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			if m, ok := final.(tuichat.Model); ok && m.SessionID() != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s\n", m.SessionID())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	cmd.Flags().StringVar(&imageBaseURL, "image-base-url", "", "prefix for generated image links, e.g. http://localhost:8000")
	return cmd
}

// chatLogger keeps logs off the terminal while the TUI owns it.
func chatLogger(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stderr", "stdout":
		return logger.Discard(), func() error { return nil }, nil
	default:
		return logger.New(cfg)
	}
}
