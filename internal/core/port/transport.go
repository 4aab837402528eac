package port

import "github.com/tbcare/telecall/internal/core/domain"

// PeerTransport is the narrow slice of a WebRTC peer connection the
// negotiation engine needs.
type PeerTransport interface {
	CreateOffer(iceRestart bool) (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(desc domain.SessionDescription) error
	SetRemoteDescription(desc domain.SessionDescription) error
	// Rollback discards a local offer and returns to stable. Only an offer
	// on a connection that was never answered can be rolled back.
	Rollback() error
	AddICECandidate(c domain.ICECandidate) error

	HasRemoteDescription() bool
	SignalingState() domain.SignalingState
	ConnectionState() domain.ConnectionState

	AddTrack(track CaptureTrack) error
	Close() error
}

// TransportSink receives transport callbacks as typed events. It is called
// from transport goroutines.
type TransportSink func(domain.TransportEvent)

type TransportFactory interface {
	NewTransport(sink TransportSink) (PeerTransport, error)
}
