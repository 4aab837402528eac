// Package cli holds the cobra commands of the telecall peer.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// relayFlags are shared by the commands that talk to the relay.
type relayFlags struct {
	server      string
	appointment string
	token       string
}

func (f *relayFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "relay base URL (env TELECALL_SERVER)")
	cmd.Flags().StringVar(&f.appointment, "appointment", "", "appointment id")
	cmd.Flags().StringVar(&f.token, "token", "", "access token (env TELECALL_TOKEN)")
	_ = cmd.MarkFlagRequired("appointment")
}

func NewRootCommand(logger zerolog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "telecall",
		Short: "Join telemedicine consultation calls from the command line",
		Long: `telecall joins the video room of an approved consultation through the
signaling relay, negotiates a WebRTC connection with the other participant
and reports call status until interrupted.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newJoinCommand(logger),
		newBacklogCommand(logger),
		newTokenCommand(),
	)
	return root
}
