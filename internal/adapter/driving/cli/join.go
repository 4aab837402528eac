package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbcare/telecall/internal/adapter/driven/media/pion"
	"github.com/tbcare/telecall/internal/adapter/driven/signaling/wsclient"
	"github.com/tbcare/telecall/internal/config"
	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/service"
)

type joinFlags struct {
	relayFlags
	noAudio   bool
	noVideo   bool
	muted     bool
	cameraOff bool
	stun      string
	turn      string
	turnUser  string
	turnPass  string
	relayOnly bool
}

func newJoinCommand(logger zerolog.Logger) *cobra.Command {
	var f joinFlags
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the call room of an appointment",
		Long: `Join the call room of an approved appointment. The relay decides whether
you take part as the doctor (initiator) or the patient (responder).

Examples:
  telecall join --appointment 6f1c2a8e-8a7f-4b8e-9a51-2c0d3f4e5a6b --token $TOKEN
  telecall join --appointment ... --token ... --no-video --turn turn.example.org`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJoin(ctx, cmd.OutOrStdout(), f, logger)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.noAudio, "no-audio", false, "do not send audio")
	cmd.Flags().BoolVar(&f.noVideo, "no-video", false, "do not send video")
	cmd.Flags().BoolVar(&f.muted, "muted", false, "join with the microphone muted")
	cmd.Flags().BoolVar(&f.cameraOff, "camera-off", false, "join with the camera turned off")
	cmd.Flags().StringVar(&f.stun, "stun", "", "STUN server url(s), comma separated (env STUN_SERVER)")
	cmd.Flags().StringVar(&f.turn, "turn", "", "TURN server host or url (env TURN_SERVER)")
	cmd.Flags().StringVar(&f.turnUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	cmd.Flags().StringVar(&f.turnPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	cmd.Flags().BoolVar(&f.relayOnly, "relay-only", false, "only use TURN relay candidates")
	return cmd
}

func dialRelay(ctx context.Context, f relayFlags, cfg *config.PeerConfig, logger zerolog.Logger) (*wsclient.Store, error) {
	apptID, err := domain.ParseAppointmentID(f.appointment)
	if err != nil {
		return nil, fmt.Errorf("--appointment: %w", err)
	}
	token := f.token
	if token == "" {
		token = os.Getenv("TELECALL_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("--token is required")
	}
	relayURL, err := wsclient.RelayURL(cfg.Server, apptID, token)
	if err != nil {
		return nil, err
	}
	return wsclient.Dial(ctx, relayURL, logger)
}

func runJoin(ctx context.Context, out io.Writer, f joinFlags, logger zerolog.Logger) error {
	constraints := domain.MediaConstraints{Audio: !f.noAudio, Video: !f.noVideo}
	if constraints.Empty() {
		return fmt.Errorf("--no-audio and --no-video leave nothing to send")
	}
	cfg, err := config.LoadPeer(config.PeerOptions{
		Server:     f.server,
		STUNServer: f.stun,
		TURNServer: f.turn,
		TURNUser:   f.turnUser,
		TURNPass:   f.turnPass,
	})
	if err != nil {
		return err
	}

	store, err := dialRelay(ctx, f.relayFlags, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	hello := store.Hello()
	fmt.Fprintf(out, "Connected to %s as %s (%s)\n", hello.Room, hello.Role, politeness(hello.Polite))

	factory, err := pion.NewFactory(pion.ICEConfig{
		STUN:       cfg.STUNServers(),
		TURN:       cfg.TURNServers(),
		Username:   cfg.TURNUser,
		Credential: cfg.TURNPass,
		RelayOnly:  f.relayOnly,
	}, logger)
	if err != nil {
		return err
	}
	clk := clock.New()
	calls := service.NewCallService(
		service.NewSignalingChannel(store, clk, logger),
		factory,
		pion.NewDevices(logger),
		clk,
		logger,
		service.CallOptions{BacklogWindow: cfg.BacklogWindow, PruneWindow: cfg.PruneWindow},
	)

	sess, err := calls.Join(ctx, hello.RoomConfig(), service.JoinOptions{
		Constraints: constraints,
		AudioMuted:  f.muted,
		VideoMuted:  f.cameraOff,
	})
	if err != nil {
		return err
	}

	d := service.NewDispatcher(logger)
	d.OnStatus(func(s domain.CallStatus) {
		fmt.Fprintf(out, "Call %s\n", s)
	})
	d.On(domain.EventRemoteTrack, func(ev domain.CallEvent) {
		fmt.Fprintf(out, "Receiving %s (%s)\n", ev.Track.Kind, ev.Track.Codec)
	})
	d.On(domain.EventTransportFailed, func(ev domain.CallEvent) {
		fmt.Fprintf(out, "Connection lost: %v\n", ev.Err)
	})
	dispatched := make(chan error, 1)
	go func() { dispatched <- d.Run(context.Background(), sess.Events()) }()

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-store.Done():
			fmt.Fprintln(out, "Relay connection closed")
			break wait
		case msg := <-store.Chats():
			fmt.Fprintf(out, "[chat %s] %s\n", msg.CreatedAt.Local().Format("15:04"), msg.Content)
		}
	}

	err = sess.Leave()
	<-dispatched
	return err
}

func politeness(polite bool) string {
	if polite {
		return "polite"
	}
	return "impolite"
}
