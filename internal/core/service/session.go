package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/media"
	"github.com/tbcare/telecall/internal/core/negotiation"
	"github.com/tbcare/telecall/internal/core/port"
)

type intentKind int

const (
	intentReplay intentKind = iota
	intentStart
)

type intent struct {
	kind    intentKind
	backlog []domain.SignalMessage
	done    chan error
}

// Session is one participant's live call. Signals, transport callbacks and
// intents all pass through a single loop goroutine, so the negotiator never
// sees two inputs at once.
type Session struct {
	room       domain.RoomConfig
	logger     zerolog.Logger
	clock      clock.Clock
	media      *media.Session
	channel    *SignalingChannel
	transport  port.PeerTransport
	negotiator *negotiation.Negotiator
	sub        *Subscription

	ctx    context.Context
	cancel context.CancelFunc

	signals         chan domain.SignalMessage
	transportEvents chan domain.TransportEvent
	intents         chan intent
	events          chan domain.CallEvent
	quit            chan struct{}
	done            chan struct{}

	// loop-owned
	seen       map[domain.MessageID]time.Time
	seenWindow time.Duration
	lastSweep  time.Time
	started    bool

	statusMu sync.Mutex
	status   domain.CallStatus

	quitOnce  sync.Once
	leaveOnce sync.Once
	leaveErr  error
}

func newSession(ctx context.Context, room domain.RoomConfig, m *media.Session, channel *SignalingChannel, clk clock.Clock, logger zerolog.Logger, eventBuffer int, seenWindow time.Duration) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		room:            room,
		logger:          logger,
		clock:           clk,
		media:           m,
		channel:         channel,
		ctx:             ctx,
		cancel:          cancel,
		signals:         make(chan domain.SignalMessage),
		transportEvents: make(chan domain.TransportEvent),
		intents:         make(chan intent),
		events:          make(chan domain.CallEvent, eventBuffer),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
		seen:            make(map[domain.MessageID]time.Time),
		seenWindow:      seenWindow,
		status:          domain.StatusJoining,
	}
}

func (s *Session) attach(transport port.PeerTransport) {
	s.transport = transport
	s.negotiator = negotiation.New(negotiation.Config{
		Transport: transport,
		Publish:   s.publish,
		Polite:    s.room.Polite(),
		Logger:    s.logger,
		Emit:      s.emit,
	})
}

func (s *Session) publish(ctx context.Context, kind domain.SignalKind, payload any) error {
	_, err := s.channel.Publish(ctx, s.room.RoomID, s.room.Identity, kind, payload)
	return err
}

// onTransportEvent is the transport sink. It runs on transport goroutines.
func (s *Session) onTransportEvent(ev domain.TransportEvent) {
	select {
	case s.transportEvents <- ev:
	case <-s.quit:
	}
}

// deliver is the subscription callback.
func (s *Session) deliver(msg domain.SignalMessage) {
	select {
	case s.signals <- msg:
	case <-s.quit:
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case msg := <-s.signals:
			s.handleSignal(msg)
		case ev := <-s.transportEvents:
			s.handleTransportEvent(ev)
		case in := <-s.intents:
			in.done <- s.handleIntent(in)
		}
	}
}

func (s *Session) handleSignal(msg domain.SignalMessage) {
	if msg.Sender == s.room.Identity {
		return
	}
	if !s.remember(msg) {
		s.logger.Debug().Str("id", msg.ID.String()).Msg("duplicate signal skipped")
		return
	}

	l := s.logger.With().Str("id", msg.ID.String()).Str("kind", string(msg.Kind)).Logger()
	switch msg.Kind {
	case domain.SignalDescription:
		desc, err := msg.Description()
		if err != nil {
			l.Warn().Err(err).Msg("malformed description dropped")
			return
		}
		outcome, err := s.negotiator.HandleDescription(s.ctx, desc)
		if err != nil {
			l.Error().Err(err).Str("sdp_type", string(desc.Type)).Msg("description not applied")
			return
		}
		l.Debug().Str("sdp_type", string(desc.Type)).Str("outcome", outcome.String()).Msg("description handled")
	case domain.SignalCandidate:
		c, err := msg.Candidate()
		if err != nil {
			l.Warn().Err(err).Msg("malformed candidate dropped")
			return
		}
		// Apply failures are logged and reported by the negotiator.
		_ = s.negotiator.HandleCandidate(c)
	default:
		l.Warn().Msg("unknown signal kind dropped")
	}
}

// remember records msg as handled and reports whether it is new. Entries
// older than the backlog window are forgotten, since no replay reaches
// that far back.
func (s *Session) remember(msg domain.SignalMessage) bool {
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	s.seen[msg.ID] = msg.CreatedAt

	now := s.clock.Now()
	if now.Sub(s.lastSweep) < s.seenWindow {
		return true
	}
	cutoff := now.Add(-s.seenWindow)
	for id, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, id)
		}
	}
	s.lastSweep = now
	return true
}

func (s *Session) handleTransportEvent(ev domain.TransportEvent) {
	switch ev.Type {
	case domain.TransportICECandidate:
		if ev.Candidate != nil {
			s.negotiator.HandleLocalCandidate(s.ctx, *ev.Candidate)
		}
	case domain.TransportConnectionState:
		s.negotiator.HandleConnectionState(s.ctx, ev.Connection)
	case domain.TransportTrack:
		if ev.Track != nil {
			s.logger.Info().Str("kind", string(ev.Track.Kind)).Str("track", ev.Track.ID).Msg("remote track received")
			s.emit(domain.CallEvent{Type: domain.EventRemoteTrack, Track: ev.Track})
		}
	case domain.TransportNegotiationNeeded:
		if !s.started {
			return
		}
		if err := s.negotiator.Negotiate(s.ctx); err != nil {
			s.logger.Error().Err(err).Msg("renegotiation failed")
		}
	}
}

func (s *Session) handleIntent(in intent) error {
	switch in.kind {
	case intentReplay:
		for _, msg := range in.backlog {
			s.handleSignal(msg)
		}
		return nil
	case intentStart:
		s.started = true
		// A replayed offer already put us in an exchange.
		if s.transport.HasRemoteDescription() || s.negotiator.State() != domain.NegotiationIdle {
			s.logger.Debug().Str("state", string(s.negotiator.State())).Msg("call start found negotiation under way")
			return nil
		}
		return s.negotiator.Negotiate(s.ctx)
	}
	return nil
}

// submit hands an intent to the loop and waits for it to run.
func (s *Session) submit(ctx context.Context, in intent) error {
	in.done = make(chan error, 1)
	select {
	case s.intents <- in:
	case <-s.done:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-in.done:
		return err
	case <-s.done:
		return domain.ErrClosed
	}
}

// stop cancels in-flight I/O and releases anything blocked on the loop.
func (s *Session) stop() {
	s.quitOnce.Do(func() {
		s.cancel()
		close(s.quit)
	})
}

// emit runs on the loop goroutine, or after the loop has exited.
func (s *Session) emit(ev domain.CallEvent) {
	ev.RoomID = s.room.RoomID
	ev.At = s.clock.Now()
	if ev.Type == domain.EventStatus {
		s.statusMu.Lock()
		s.status = ev.Status
		s.statusMu.Unlock()
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Str("type", string(ev.Type)).Msg("event buffer full, dropping call event")
	}
}

// Leave stops local media, closes the transport and closes the signal
// subscription, in that order. It is safe to call more than once.
func (s *Session) Leave() error {
	s.leaveOnce.Do(func() {
		s.stop()
		<-s.done

		var err error
		err = multierr.Append(err, s.media.Release())
		err = multierr.Append(err, s.transport.Close())
		if s.sub != nil {
			err = multierr.Append(err, s.sub.Close())
		}
		s.negotiator.Close()

		s.emit(domain.CallEvent{Type: domain.EventStatus, Status: domain.StatusLeft})
		close(s.events)
		if err != nil {
			s.logger.Warn().Err(err).Msg("left call with teardown errors")
		} else {
			s.logger.Info().Msg("left call")
		}
		s.leaveErr = err
	})
	return s.leaveErr
}

func (s *Session) SetAudioEnabled(enabled bool) {
	s.media.SetAudioEnabled(enabled)
}

func (s *Session) SetVideoEnabled(enabled bool) {
	s.media.SetVideoEnabled(enabled)
}

// Events is closed after Leave.
func (s *Session) Events() <-chan domain.CallEvent {
	return s.events
}

func (s *Session) Status() domain.CallStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

func (s *Session) Room() domain.RoomConfig {
	return s.room
}

func (s *Session) Media() *media.Session {
	return s.media
}

// Done is closed when the session loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
