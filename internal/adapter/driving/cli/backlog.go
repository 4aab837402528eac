package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbcare/telecall/internal/config"
	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/service"
)

func newBacklogCommand(logger zerolog.Logger) *cobra.Command {
	var (
		f      relayFlags
		window time.Duration
	)
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Print the signals a late joiner would replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPeer(config.PeerOptions{Server: f.server, BacklogWindow: window})
			if err != nil {
				return err
			}
			store, err := dialRelay(cmd.Context(), f, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			hello := store.Hello()
			msgs, err := store.Since(cmd.Context(), hello.Room, time.Now().Add(-cfg.BacklogWindow))
			if err != nil {
				return err
			}
			service.OrderBacklog(msgs)
			renderBacklog(cmd.OutOrStdout(), msgs, hello.Identity)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&window, "window", 0, "how far back to look (env BACKLOG_WINDOW, default 5m)")
	return cmd
}

func renderBacklog(w io.Writer, msgs []domain.SignalMessage, self domain.Identity) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Time", "From", "Kind", "Detail"})
	for i, m := range msgs {
		from := "peer"
		if m.Sender == self {
			from = "me"
		}
		t.AppendRow(table.Row{i + 1, m.CreatedAt.Local().Format("15:04:05.000"), from, m.Kind, detail(m)})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(msgs)})
	t.Render()
}

func detail(m domain.SignalMessage) string {
	switch m.Kind {
	case domain.SignalDescription:
		desc, err := m.Description()
		if err != nil {
			return "malformed"
		}
		return fmt.Sprintf("%s, %d bytes of sdp", desc.Type, len(desc.SDP))
	case domain.SignalCandidate:
		c, err := m.Candidate()
		if err != nil {
			return "malformed"
		}
		if len(c.Candidate) > 48 {
			return c.Candidate[:48] + "..."
		}
		return c.Candidate
	}
	return ""
}
