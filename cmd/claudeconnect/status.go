package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/claudeconnect/client/internal/eventbus"
	"github.com/claudeconnect/client/internal/eventlog"
	"github.com/claudeconnect/client/internal/session"
)

var (
	statusColors = map[string]lipgloss.Color{
		session.ColorRed:    lipgloss.Color("9"),
		session.ColorOrange: lipgloss.Color("214"),
		session.ColorGreen:  lipgloss.Color("10"),
	}
	labelStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	levelColors = map[eventlog.Level]lipgloss.Color{
		eventlog.LevelInfo:    lipgloss.Color("12"),
		eventlog.LevelSuccess: lipgloss.Color("10"),
		eventlog.LevelWarning: lipgloss.Color("214"),
		eventlog.LevelError:   lipgloss.Color("9"),
	}
)

func renderStatus(st session.Status) string {
	return lipgloss.NewStyle().Foreground(statusColors[st.Color()]).Render("● " + st.String())
}

// statusFromEvent rebuilds the status carried by a status_changed event.
func statusFromEvent(ev *eventbus.Event) session.Status {
	return session.Status{
		Kind:   session.Kind(ev.String("kind")),
		Reason: ev.String("reason"),
		Code:   ev.String("code"),
	}
}

func renderEntry(e eventlog.Entry) string {
	level := lipgloss.NewStyle().Foreground(levelColors[e.Level]).Render(fmt.Sprintf("%-7s", e.Level))
	return fmt.Sprintf("%s %s %s %s", dimStyle.Render(e.Time.Format("15:04:05")), level,
		dimStyle.Render("["+string(e.Category)+"]"), e.Message)
}

// waitSettled blocks until the session is no longer connecting or timeout
// passes, and returns the last status seen.
func waitSettled(s *session.Session, timeout time.Duration) session.Status {
	events, cancel := s.Bus().Channel([]eventbus.EventType{eventbus.EventStatusChanged}, 16)
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), timeout)
	defer done()
	for {
		st := s.Status()
		if !st.InFlight() {
			return st
		}
		select {
		case <-events:
		case <-ctx.Done():
			return s.Status()
		}
	}
}

func printCredentials(w io.Writer, s session.State) {
	c := s.Credentials
	show := func(label, value string) {
		if value == "" {
			value = dimStyle.Render("(none)")
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", label)), value)
	}
	show("Server:", c.ServerURL)
	show("Pairing id:", c.AuthID)
	show("Client id:", c.ClientID)
	token := "not stored"
	if c.HasToken {
		token = "stored"
	}
	show("Token:", token)
}

func newStatusCmd(a *app) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored credentials and, with --check, the live connection status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(boolPtr(false))
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Start(); err != nil {
				return err
			}

			if check {
				if err := s.Connect(); err != nil {
					return err
				}
				waitSettled(s, a.cfg.Handshake()+a.cfg.Connectivity())
			}

			state := s.Snapshot()
			printCredentials(a.stdout, state)
			fmt.Fprintf(a.stdout, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", "Status:")), renderStatus(state.Status))
			if check && state.Status.Kind == session.Authenticated {
				return s.Disconnect()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "connect and authenticate to verify the stored credentials")
	return cmd
}

func newForgetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Delete the stored server URL, pairing id, and reconnection token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(boolPtr(false))
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Start(); err != nil {
				return err
			}
			if err := s.Forget(); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Stored credentials cleared.")
			return nil
		},
	}
}

func newLogsCmd(a *app) *cobra.Command {
	var (
		category string
		limit    int
		wipe     bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the diagnostic log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			diag, err := a.diagnosticLog(nil)
			if err != nil {
				return err
			}
			if wipe {
				if err := diag.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, "Diagnostic log cleared.")
				return nil
			}

			entries := diag.Entries()
			if category != "" {
				entries = diag.Filter(eventlog.Category(category))
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "No log entries.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintln(a.stdout, renderEntry(e))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only show general, connection, authentication, or repository entries")
	cmd.Flags().IntVarP(&limit, "lines", "n", 0, "show only the last n entries")
	cmd.Flags().BoolVar(&wipe, "clear", false, "delete every entry")
	return cmd
}
