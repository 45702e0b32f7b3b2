package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"omni-agent/internal/domain"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect stored chat sessions",
	}
	cmd.AddCommand(newSessionsListCmd(root), newSessionsShowCmd(root))
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(root *rootOptions, fn func(domain.SessionStore) error) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Memory)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if st == nil {
		return domain.NewDomainError("sessions", domain.ErrDisabled, "memory is disabled in the config")
	}
	defer st.Close()
	return fn(st)
}

func newSessionsListCmd(root *rootOptions) *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(root, func(st domain.SessionStore) error {
				return listSessions(cmd.Context(), cmd.OutOrStdout(), st, userID, limit)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only sessions of this user")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}

func listSessions(ctx context.Context, w io.Writer, st domain.SessionStore, userID string, limit int) error {
	sessions, err := st.ListSessions(ctx, userID, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func newSessionsShowCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the recent messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(root, func(st domain.SessionStore) error {
				return showSession(cmd.Context(), cmd.OutOrStdout(), st, args[0], limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages to print")
	return cmd
}

func showSession(ctx context.Context, w io.Writer, st domain.SessionStore, id string, limit int) error {
	sess, err := st.GetSession(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := st.RecentMessages(ctx, id, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  %s  (%d messages)\n\n", sess.ID, sess.Title, sess.MessageCount)
	for _, m := range msgs {
		speaker := "You"
		if m.Role != domain.RoleUser {
			speaker = "Omni"
			if m.AgentType != "" {
				speaker += " (" + m.AgentType + ")"
			}
		}
		if m.Type == domain.MessageError {
			speaker += " [error]"
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), speaker, m.Content)
	}
	return nil
}
