// Package negotiation implements perfect-negotiation offer/answer handling
// for one peer connection.
//
// Each side holds a fixed politeness. When both sides offer at once the
// impolite side ignores the incoming offer and keeps its own; the polite
// side rolls its offer back and answers. Remote ICE candidates that arrive
// before any remote description are parked in a CandidateQueue and applied
// in arrival order as soon as a description lands.
//
// A Negotiator is not safe for concurrent use. The owning session feeds it
// from a single goroutine.
package negotiation

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

// Publisher sends a local description or candidate to the peer.
type Publisher func(ctx context.Context, kind domain.SignalKind, payload any) error

// Outcome says what HandleDescription did with a remote description.
type Outcome int

const (
	// OutcomeApplied means a remote answer was set.
	OutcomeApplied Outcome = iota
	// OutcomeAnswered means a remote offer was set and answered.
	OutcomeAnswered
	// OutcomeIgnored means an offer collided with ours and we are impolite.
	OutcomeIgnored
	// OutcomeStale means an answer arrived with no local offer outstanding.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAnswered:
		return "answered"
	case OutcomeIgnored:
		return "collision_ignored"
	case OutcomeStale:
		return "stale"
	}
	return "unknown"
}

type Config struct {
	Transport port.PeerTransport
	Publish   Publisher
	Polite    bool
	Logger    zerolog.Logger
	// Emit receives call events. Optional.
	Emit func(domain.CallEvent)
}

type Negotiator struct {
	transport port.PeerTransport
	publish   Publisher
	polite    bool
	logger    zerolog.Logger
	emit      func(domain.CallEvent)
	queue     *CandidateQueue

	state       domain.NegotiationState
	makingOffer bool
	ignoreOffer bool
	pending     bool
	restarting  bool
}

func New(cfg Config) *Negotiator {
	emit := cfg.Emit
	if emit == nil {
		emit = func(domain.CallEvent) {}
	}
	return &Negotiator{
		transport: cfg.Transport,
		publish:   cfg.Publish,
		polite:    cfg.Polite,
		logger:    cfg.Logger.With().Bool("polite", cfg.Polite).Logger(),
		emit:      emit,
		queue:     NewCandidateQueue(),
		state:     domain.NegotiationIdle,
	}
}

func (n *Negotiator) State() domain.NegotiationState { return n.state }
func (n *Negotiator) Polite() bool                   { return n.polite }
func (n *Negotiator) Queue() *CandidateQueue         { return n.queue }

// Negotiate starts an offer. If an offer is already in flight or the
// transport is mid-exchange, a renegotiation is remembered and started once
// the transport is stable again.
func (n *Negotiator) Negotiate(ctx context.Context) error {
	if n.state == domain.NegotiationClosed {
		return domain.ErrClosed
	}
	if n.makingOffer || n.transport.SignalingState() != domain.SignalingStable {
		n.logger.Debug().Str("state", string(n.state)).Msg("negotiation deferred until stable")
		n.pending = true
		return nil
	}
	return n.offer(ctx, false)
}

func (n *Negotiator) offer(ctx context.Context, iceRestart bool) error {
	n.makingOffer = true
	defer func() { n.makingOffer = false }()
	previous := n.state
	n.state = domain.NegotiationMakingOffer

	desc, err := n.transport.CreateOffer(iceRestart)
	if err != nil {
		n.state = previous
		return domain.WrapCallError("create offer", domain.ErrTransportFailed, err)
	}
	if err := n.transport.SetLocalDescription(desc); err != nil {
		n.state = previous
		return domain.WrapCallError("set local offer", domain.ErrTransportFailed, err)
	}
	n.state = domain.NegotiationHaveLocalOffer
	n.logger.Debug().Bool("ice_restart", iceRestart).Msg("local offer set")
	n.send(ctx, desc)
	return nil
}

// HandleDescription applies a remote offer or answer.
func (n *Negotiator) HandleDescription(ctx context.Context, desc domain.SessionDescription) (Outcome, error) {
	if n.state == domain.NegotiationClosed {
		return OutcomeStale, domain.ErrClosed
	}

	signaling := n.transport.SignalingState()
	collision := desc.Type == domain.SDPOffer &&
		(n.makingOffer || signaling != domain.SignalingStable)

	n.ignoreOffer = !n.polite && collision
	if n.ignoreOffer {
		n.logger.Debug().
			Str("outcome", OutcomeIgnored.String()).
			Str("signaling_state", string(signaling)).
			Msg("incoming offer collided with ours")
		n.emit(domain.CallEvent{Type: domain.EventOfferIgnored})
		return OutcomeIgnored, nil
	}

	if desc.Type == domain.SDPAnswer && signaling != domain.SignalingHaveLocalOffer {
		n.logger.Debug().
			Str("outcome", OutcomeStale.String()).
			Str("signaling_state", string(signaling)).
			Msg("answer without outstanding offer")
		return OutcomeStale, nil
	}

	if collision {
		// Polite side gives up its own offer.
		if err := n.transport.Rollback(); err != nil {
			return OutcomeStale, domain.WrapCallError("rollback local offer", domain.ErrTransportFailed, err)
		}
		n.logger.Debug().Msg("rolled back local offer for remote offer")
	}

	if err := n.transport.SetRemoteDescription(desc); err != nil {
		return OutcomeStale, domain.WrapCallError("set remote "+string(desc.Type), domain.ErrTransportFailed, err)
	}
	n.drain()

	if desc.Type == domain.SDPAnswer {
		n.settle()
		return OutcomeApplied, n.resume(ctx)
	}

	n.state = domain.NegotiationHaveRemoteOffer
	answer, err := n.transport.CreateAnswer()
	if err != nil {
		return OutcomeStale, domain.WrapCallError("create answer", domain.ErrTransportFailed, err)
	}
	if err := n.transport.SetLocalDescription(answer); err != nil {
		return OutcomeStale, domain.WrapCallError("set local answer", domain.ErrTransportFailed, err)
	}
	n.send(ctx, answer)
	n.settle()
	return OutcomeAnswered, n.resume(ctx)
}

// HandleCandidate applies a remote candidate, or queues it until a remote
// description exists.
func (n *Negotiator) HandleCandidate(c domain.ICECandidate) error {
	if n.state == domain.NegotiationClosed {
		return domain.ErrClosed
	}
	if !n.transport.HasRemoteDescription() {
		n.queue.Enqueue(c)
		n.logger.Debug().Int("queued", n.queue.Len()).Msg("candidate queued until remote description")
		return nil
	}
	return n.applyCandidate(c)
}

func (n *Negotiator) applyCandidate(c domain.ICECandidate) error {
	if n.state == domain.NegotiationClosed {
		return domain.ErrClosed
	}
	err := n.transport.AddICECandidate(c)
	if err == nil {
		return nil
	}
	if n.ignoreOffer {
		// Candidates for an offer we ignored are expected to fail.
		n.logger.Debug().Err(err).Msg("candidate for ignored offer dropped")
		return nil
	}
	cerr := domain.WrapCallError("add ice candidate", domain.ErrCandidateApply, err)
	n.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("candidate rejected")
	n.emit(domain.CallEvent{Type: domain.EventCandidateFailed, Err: cerr})
	return cerr
}

func (n *Negotiator) drain() {
	if n.queue.Len() == 0 {
		return
	}
	applied, err := n.queue.Drain(n.applyCandidate)
	ev := n.logger.Debug().Int("applied", applied)
	if err != nil && !errors.Is(err, domain.ErrCandidateApply) {
		ev = n.logger.Warn().Err(err).Int("applied", applied)
	}
	ev.Msg("candidate queue drained")
}

// HandleLocalCandidate forwards a locally gathered candidate to the peer.
func (n *Negotiator) HandleLocalCandidate(ctx context.Context, c domain.ICECandidate) {
	if n.state == domain.NegotiationClosed {
		return
	}
	if err := n.publish(ctx, domain.SignalCandidate, c); err != nil {
		n.publishFailed(err)
	}
}

// HandleConnectionState reacts to the transport's connectivity changes.
// The first failure triggers an ICE restart, offered by the impolite side
// only so both peers never restart at once. A second failure without an
// intervening connect is terminal.
func (n *Negotiator) HandleConnectionState(ctx context.Context, s domain.ConnectionState) {
	if n.state == domain.NegotiationClosed {
		return
	}
	n.logger.Info().Str("connection_state", string(s)).Msg("transport state changed")
	switch s {
	case domain.ConnectionConnected:
		n.restarting = false
		if n.state == domain.NegotiationStable || n.state == domain.NegotiationFailed {
			n.state = domain.NegotiationConnected
		}
		n.status(domain.StatusConnected)
	case domain.ConnectionDisconnected:
		n.status(domain.StatusDisconnected)
	case domain.ConnectionFailed:
		if !n.restarting && n.polite {
			// The impolite side leads the restart; its offer is answered
			// like any other.
			n.restarting = true
			n.status(domain.StatusDisconnected)
			n.logger.Info().Msg("waiting for peer to restart ice")
			return
		}
		if !n.restarting {
			n.restarting = true
			n.status(domain.StatusDisconnected)
			err := n.restartICE(ctx)
			if err == nil {
				return
			}
			n.logger.Error().Err(err).Msg("ice restart could not start")
		}
		n.state = domain.NegotiationFailed
		err := domain.NewCallError("peer connection", domain.ErrTransportFailed)
		n.emit(domain.CallEvent{Type: domain.EventTransportFailed, Err: err})
		n.status(domain.StatusFailed)
	case domain.ConnectionClosed:
		n.state = domain.NegotiationClosed
		n.queue.Clear()
	}
}

func (n *Negotiator) restartICE(ctx context.Context) error {
	if n.makingOffer || n.transport.SignalingState() != domain.SignalingStable {
		n.pending = true
		return nil
	}
	n.logger.Info().Msg("restarting ice")
	return n.offer(ctx, true)
}

// Close marks the negotiator closed and clears queued candidates. The
// transport itself is closed by its owner.
func (n *Negotiator) Close() {
	n.state = domain.NegotiationClosed
	n.queue.Clear()
}

func (n *Negotiator) settle() {
	if n.transport.ConnectionState() == domain.ConnectionConnected {
		n.state = domain.NegotiationConnected
		return
	}
	n.state = domain.NegotiationStable
}

func (n *Negotiator) resume(ctx context.Context) error {
	if !n.pending {
		return nil
	}
	n.pending = false
	n.logger.Debug().Msg("running deferred negotiation")
	return n.offer(ctx, n.restarting)
}

func (n *Negotiator) send(ctx context.Context, desc domain.SessionDescription) {
	if err := n.publish(ctx, domain.SignalDescription, desc); err != nil {
		n.publishFailed(err)
	}
}

func (n *Negotiator) publishFailed(err error) {
	n.logger.Warn().Err(err).Msg("signal not delivered, continuing")
	n.emit(domain.CallEvent{Type: domain.EventPublishFailed, Err: err})
}

func (n *Negotiator) status(s domain.CallStatus) {
	n.emit(domain.CallEvent{Type: domain.EventStatus, Status: s})
}
