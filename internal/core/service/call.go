package service

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/media"
	"github.com/tbcare/telecall/internal/core/port"
)

const (
	DefaultBacklogWindow = 5 * time.Minute
	DefaultPruneWindow   = 10 * time.Minute
	DefaultEventBuffer   = 128
)

type CallOptions struct {
	// BacklogWindow bounds how old a replayed signal may be.
	BacklogWindow time.Duration
	// PruneWindow is the age past which signals are deleted on join.
	PruneWindow time.Duration
	EventBuffer int
}

func (o CallOptions) withDefaults() CallOptions {
	if o.BacklogWindow <= 0 {
		o.BacklogWindow = DefaultBacklogWindow
	}
	if o.PruneWindow <= 0 {
		o.PruneWindow = DefaultPruneWindow
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	return o
}

type JoinOptions struct {
	Constraints domain.MediaConstraints
	// Preview is adopted instead of acquiring devices again.
	Preview    *media.Session
	AudioMuted bool
	VideoMuted bool
}

type CallService struct {
	channel    *SignalingChannel
	transports port.TransportFactory
	devices    port.MediaDevices
	clock      clock.Clock
	logger     zerolog.Logger
	opts       CallOptions
}

func NewCallService(channel *SignalingChannel, transports port.TransportFactory, devices port.MediaDevices, clk clock.Clock, logger zerolog.Logger, opts CallOptions) *CallService {
	return &CallService{
		channel:    channel,
		transports: transports,
		devices:    devices,
		clock:      clk,
		logger:     logger,
		opts:       opts.withDefaults(),
	}
}

// Preview acquires local media before a room is joined so the user can
// check camera and microphone. Pass the result to Join via JoinOptions.
func (s *CallService) Preview(ctx context.Context, constraints domain.MediaConstraints) (*media.Session, error) {
	m := media.NewSession(s.devices, s.logger.With().Str("component", "preview").Logger())
	if _, err := m.Initialize(ctx, constraints); err != nil {
		_ = m.Release()
		return nil, err
	}
	return m, nil
}

// Join enters the room described by cfg and starts negotiating. Any failure
// before the session is running releases everything acquired so far.
func (s *CallService) Join(ctx context.Context, cfg domain.RoomConfig, opts JoinOptions) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := s.logger.With().
		Str("room", cfg.RoomID.String()).
		Str("identity", string(cfg.Identity)).
		Str("role", string(cfg.Role)).
		Bool("polite", cfg.Polite()).
		Logger()

	m := opts.Preview
	if m == nil {
		m = media.NewSession(s.devices, l)
	}
	tracks, err := m.Initialize(ctx, opts.Constraints)
	if err != nil {
		_ = m.Release()
		return nil, err
	}
	if opts.AudioMuted {
		m.SetAudioEnabled(false)
	}
	if opts.VideoMuted {
		m.SetVideoEnabled(false)
	}

	now := s.clock.Now()
	s.channel.Prune(ctx, cfg.RoomID, now.Add(-s.opts.PruneWindow))

	sess := newSession(context.WithoutCancel(ctx), cfg, m, s.channel, s.clock, l, s.opts.EventBuffer, s.opts.BacklogWindow)

	transport, err := s.transports.NewTransport(sess.onTransportEvent)
	if err != nil {
		sess.stop()
		_ = m.Release()
		l.Error().Err(err).Msg("transport creation failed")
		return nil, domain.WrapCallError("create transport", domain.ErrTransportFailed, err)
	}
	sess.attach(transport)

	rollback := func() {
		sess.stop()
		_ = m.Release()
		_ = transport.Close()
	}

	for _, t := range tracks {
		if err := transport.AddTrack(t); err != nil {
			rollback()
			l.Error().Err(err).Str("kind", string(t.Kind())).Msg("attaching track failed")
			return nil, domain.WrapCallError("attach "+string(t.Kind())+" track", domain.ErrTransportFailed, err)
		}
	}

	// The feed outlives the session context so Leave can close it last.
	sub, err := s.channel.Subscribe(context.WithoutCancel(ctx), cfg.RoomID, cfg.Identity, sess.deliver)
	if err != nil {
		rollback()
		l.Error().Err(err).Msg("signal subscription failed")
		return nil, err
	}
	sess.sub = sub

	sess.emit(domain.CallEvent{Type: domain.EventStatus, Status: domain.StatusJoining})
	go sess.run()

	backlog, err := s.channel.FetchBacklog(ctx, cfg.RoomID, now.Add(-s.opts.BacklogWindow), cfg.Identity)
	if err != nil {
		l.Warn().Err(err).Msg("backlog unavailable, continuing with live signals only")
	} else if len(backlog) > 0 {
		l.Info().Int("messages", len(backlog)).Msg("replaying signal backlog")
		if err := sess.submit(ctx, intent{kind: intentReplay, backlog: backlog}); err != nil {
			_ = sess.Leave()
			return nil, err
		}
	}

	if err := sess.submit(ctx, intent{kind: intentStart}); err != nil {
		_ = sess.Leave()
		l.Error().Err(err).Msg("call start failed")
		return nil, err
	}
	l.Info().Int("tracks", len(tracks)).Msg("joined call")
	return sess, nil
}
