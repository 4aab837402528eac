// Package pion implements the transport and capture ports on top of
// pion/webrtc.
package pion

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var (
	_ port.TransportFactory = (*Factory)(nil)
	_ port.PeerTransport    = (*Transport)(nil)
)

const pliInterval = 3 * time.Second

var (
	ErrForeignTrack = errors.New("capture track has no pion track behind it")
	ErrNoLocalOffer = errors.New("no pending local offer to roll back")
	// ErrRollbackEstablished is returned when a rollback would tear down
	// a connection that already has a remote description.
	ErrRollbackEstablished = errors.New("cannot roll back an established connection")
)

// LocalTrack is a capture track that can be sent over a peer connection.
type LocalTrack interface {
	port.CaptureTrack
	TrackLocal() webrtc.TrackLocal
}

type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger zerolog.Logger
}

func NewFactory(ice ICEConfig, logger zerolog.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry)),
		config: ice.configuration(),
		logger: logger,
	}, nil
}

func (f *Factory) NewTransport(sink port.TransportSink) (port.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		factory: f,
		pc:      pc,
		sink:    sink,
		logger:  f.logger,
		quit:    make(chan struct{}),
	}
	t.wire(pc)
	return t, nil
}

// Transport adapts one peer connection. Callbacks are forwarded to the sink
// as typed events; the transport itself keeps no negotiation state.
//
// pion cannot roll back a local offer, so Rollback replaces an unanswered
// peer connection with a fresh one carrying the same tracks. Callbacks from
// a replaced connection are dropped.
type Transport struct {
	factory *Factory
	sink    port.TransportSink
	logger  zerolog.Logger

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	tracks []LocalTrack

	quit      chan struct{}
	closeOnce sync.Once
}

func (t *Transport) conn() *webrtc.PeerConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pc
}

// emit forwards ev only while pc is the live connection.
func (t *Transport) emit(pc *webrtc.PeerConnection, ev domain.TransportEvent) {
	if t.conn() != pc {
		return
	}
	t.sink(ev)
}

func (t *Transport) wire(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		t.emit(pc, domain.TransportEvent{
			Type: domain.TransportICECandidate,
			Candidate: &domain.ICECandidate{
				Candidate:        cand.Candidate,
				SDPMid:           cand.SDPMid,
				SDPMLineIndex:    cand.SDPMLineIndex,
				UsernameFragment: cand.UsernameFragment,
			},
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		state, ok := connectionState(s)
		if !ok {
			return
		}
		t.emit(pc, domain.TransportEvent{Type: domain.TransportConnectionState, Connection: state})
	})

	pc.OnNegotiationNeeded(func() {
		t.emit(pc, domain.TransportEvent{Type: domain.TransportNegotiationNeeded})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.logger.Debug().Str("kind", remote.Kind().String()).Str("track", remote.ID()).Msg("Received remote track")
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go t.requestKeyframes(pc, uint32(remote.SSRC()))
		}
		go drainRTP(remote)
		t.emit(pc, domain.TransportEvent{
			Type: domain.TransportTrack,
			Track: &domain.RemoteTrack{
				ID:       remote.ID(),
				StreamID: remote.StreamID(),
				Kind:     trackKind(remote.Kind()),
				Codec:    remote.Codec().MimeType,
			},
		})
	})
}

// requestKeyframes sends a PLI at once and then periodically so a late
// decoder gets a keyframe.
func (t *Transport) requestKeyframes(pc *webrtc.PeerConnection, ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
			return
		}
		select {
		case <-t.quit:
			return
		case <-ticker.C:
		}
	}
}

// drainRTP keeps the receive buffer moving until rendering is attached.
func drainRTP(remote *webrtc.TrackRemote) {
	for {
		if _, _, err := remote.ReadRTP(); err != nil {
			return
		}
	}
}

func (t *Transport) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	offer, err := t.conn().CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

func (t *Transport) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := t.conn().CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(answer), nil
}

func (t *Transport) SetLocalDescription(desc domain.SessionDescription) error {
	return t.conn().SetLocalDescription(toPion(desc))
}

func (t *Transport) SetRemoteDescription(desc domain.SessionDescription) error {
	return t.conn().SetRemoteDescription(toPion(desc))
}

// Rollback discards the pending local offer. The unanswered connection is
// closed and replaced by a fresh one with the same tracks, which leaves the
// transport stable with no descriptions. A connection that already holds a
// remote description is never replaced.
func (t *Transport) Rollback() error {
	old := t.conn()
	if old.SignalingState() != webrtc.SignalingStateHaveLocalOffer || old.PendingLocalDescription() == nil {
		return ErrNoLocalOffer
	}
	if old.CurrentRemoteDescription() != nil {
		return ErrRollbackEstablished
	}

	pc, err := t.factory.api.NewPeerConnection(t.factory.config)
	if err != nil {
		return fmt.Errorf("replace peer connection: %w", err)
	}
	t.mu.Lock()
	tracks := append([]LocalTrack(nil), t.tracks...)
	t.mu.Unlock()
	for _, lt := range tracks {
		if err := attach(pc, lt); err != nil {
			_ = pc.Close()
			return fmt.Errorf("reattach %s: %w", lt.ID(), err)
		}
	}

	t.mu.Lock()
	t.pc = pc
	t.mu.Unlock()
	t.wire(pc)

	select {
	case <-t.quit:
		// Closed while replacing.
		_ = pc.Close()
	default:
	}
	if err := old.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("Closing rolled back connection")
	}
	t.logger.Debug().Int("tracks", len(tracks)).Msg("Local offer rolled back")
	return nil
}

func (t *Transport) AddICECandidate(c domain.ICECandidate) error {
	return t.conn().AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (t *Transport) HasRemoteDescription() bool {
	return t.conn().RemoteDescription() != nil
}

func (t *Transport) SignalingState() domain.SignalingState {
	switch s := t.conn().SignalingState(); s {
	case webrtc.SignalingStateStable:
		return domain.SignalingStable
	case webrtc.SignalingStateHaveLocalOffer:
		return domain.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return domain.SignalingHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return domain.SignalingClosed
	default:
		return domain.SignalingState(s.String())
	}
}

func (t *Transport) ConnectionState() domain.ConnectionState {
	state, ok := connectionState(t.conn().ConnectionState())
	if !ok {
		return domain.ConnectionNew
	}
	return state
}

func (t *Transport) AddTrack(track port.CaptureTrack) error {
	lt, ok := track.(LocalTrack)
	if !ok {
		return fmt.Errorf("%w: %s", ErrForeignTrack, track.ID())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := attach(t.pc, lt); err != nil {
		return err
	}
	t.tracks = append(t.tracks, lt)
	return nil
}

func attach(pc *webrtc.PeerConnection, lt LocalTrack) error {
	sender, err := pc.AddTrack(lt.TrackLocal())
	if err != nil {
		return err
	}
	// RTCP has to be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.quit)
		err = t.conn().Close()
	})
	return err
}

func connectionState(s webrtc.PeerConnectionState) (domain.ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnectionNew, true
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionClosed, true
	}
	return "", false
}

func trackKind(k webrtc.RTPCodecType) domain.TrackKind {
	if k == webrtc.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}

func toPion(desc domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(desc.Type)), SDP: desc.SDP}
}

func fromPion(desc webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(desc.Type.String()), SDP: desc.SDP}
}
