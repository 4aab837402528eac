// Package porttest provides in-memory fakes of the transport and media
// ports. The fakes enforce the offer/answer state rules of a real peer
// connection so negotiation bugs surface as errors instead of silently
// passing.
package porttest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var _ port.PeerTransport = (*FakeTransport)(nil)

var (
	ErrFakeClosed = errors.New("fake transport closed")
	// ErrFakeEstablished mirrors the pion adapter, which can only roll back
	// an offer on a connection that was never answered.
	ErrFakeEstablished = errors.New("fake transport cannot roll back an established connection")
)

type FakeTransport struct {
	mu sync.Mutex

	name      string
	offers    int
	signaling domain.SignalingState
	conn      domain.ConnectionState
	local     *domain.SessionDescription
	remote    *domain.SessionDescription
	sink      port.TransportSink

	calls      []string
	candidates []domain.ICECandidate
	tracks     []port.CaptureTrack
	closeCount int

	// FailCandidates makes AddICECandidate fail for these candidate strings.
	FailCandidates map[string]bool
	CreateOfferErr error
	AddTrackErr    error
}

func NewFakeTransport(name string) *FakeTransport {
	return &FakeTransport{
		name:           name,
		signaling:      domain.SignalingStable,
		conn:           domain.ConnectionNew,
		FailCandidates: make(map[string]bool),
	}
}

func (t *FakeTransport) record(call string) {
	t.calls = append(t.calls, call)
}

func (t *FakeTransport) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signaling == domain.SignalingClosed {
		return domain.SessionDescription{}, ErrFakeClosed
	}
	if t.CreateOfferErr != nil {
		return domain.SessionDescription{}, t.CreateOfferErr
	}
	t.offers++
	call := "create-offer"
	if iceRestart {
		call = "create-offer:restart"
	}
	t.record(call)
	return domain.SessionDescription{
		Type: domain.SDPOffer,
		SDP:  fmt.Sprintf("%s-offer-%d", t.name, t.offers),
	}, nil
}

func (t *FakeTransport) CreateAnswer() (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signaling != domain.SignalingHaveRemoteOffer {
		return domain.SessionDescription{}, fmt.Errorf("create answer in state %s", t.signaling)
	}
	t.record("create-answer")
	return domain.SessionDescription{
		Type: domain.SDPAnswer,
		SDP:  fmt.Sprintf("%s-answer-to-%s", t.name, t.remote.SDP),
	}, nil
}

func (t *FakeTransport) SetLocalDescription(desc domain.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case desc.Type == domain.SDPOffer && t.signaling == domain.SignalingStable:
		t.signaling = domain.SignalingHaveLocalOffer
	case desc.Type == domain.SDPAnswer && t.signaling == domain.SignalingHaveRemoteOffer:
		t.signaling = domain.SignalingStable
	default:
		return fmt.Errorf("set local %s in state %s", desc.Type, t.signaling)
	}
	t.local = &desc
	t.record("set-local:" + string(desc.Type))
	return nil
}

func (t *FakeTransport) SetRemoteDescription(desc domain.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case desc.Type == domain.SDPOffer && t.signaling == domain.SignalingStable:
		t.signaling = domain.SignalingHaveRemoteOffer
	case desc.Type == domain.SDPAnswer && t.signaling == domain.SignalingHaveLocalOffer:
		t.signaling = domain.SignalingStable
	default:
		return fmt.Errorf("set remote %s in state %s", desc.Type, t.signaling)
	}
	t.remote = &desc
	t.record("set-remote:" + string(desc.Type) + ":" + desc.SDP)
	return nil
}

func (t *FakeTransport) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signaling != domain.SignalingHaveLocalOffer {
		return fmt.Errorf("rollback in state %s", t.signaling)
	}
	if t.remote != nil {
		return ErrFakeEstablished
	}
	t.signaling = domain.SignalingStable
	t.local = nil
	t.record("rollback")
	return nil
}

func (t *FakeTransport) AddICECandidate(c domain.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return errors.New("add candidate without remote description")
	}
	t.record("add-candidate:" + c.Candidate)
	if t.FailCandidates[c.Candidate] {
		return fmt.Errorf("malformed candidate %q", c.Candidate)
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *FakeTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote != nil
}

func (t *FakeTransport) SignalingState() domain.SignalingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signaling
}

func (t *FakeTransport) ConnectionState() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *FakeTransport) AddTrack(track port.CaptureTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.AddTrackErr != nil {
		return t.AddTrackErr
	}
	t.tracks = append(t.tracks, track)
	t.record("add-track:" + string(track.Kind()))
	return nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCount++
	t.signaling = domain.SignalingClosed
	t.conn = domain.ConnectionClosed
	t.record("close")
	return nil
}

// Fire delivers a transport event the way a real connection callback would.
func (t *FakeTransport) Fire(ev domain.TransportEvent) {
	t.mu.Lock()
	sink := t.sink
	if ev.Type == domain.TransportConnectionState {
		t.conn = ev.Connection
	}
	t.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (t *FakeTransport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *FakeTransport) AppliedCandidates() []domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ICECandidate(nil), t.candidates...)
}

// CountCalls counts recorded calls with the given prefix.
func (t *FakeTransport) CountCalls(prefix string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (t *FakeTransport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount
}

func (t *FakeTransport) Tracks() []port.CaptureTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]port.CaptureTrack(nil), t.tracks...)
}

func (t *FakeTransport) RemoteDescription() *domain.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

func (t *FakeTransport) LocalDescription() *domain.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// FakeFactory hands out a prepared transport.
type FakeFactory struct {
	mu        sync.Mutex
	Transport *FakeTransport
	Err       error
	created   int
}

var _ port.TransportFactory = (*FakeFactory)(nil)

func (f *FakeFactory) NewTransport(sink port.TransportSink) (port.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.created++
	f.Transport.mu.Lock()
	f.Transport.sink = sink
	f.Transport.mu.Unlock()
	return f.Transport, nil
}

func (f *FakeFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}
