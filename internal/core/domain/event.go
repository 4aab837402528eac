package domain

import "time"

type TransportEventType string

const (
	TransportICECandidate      TransportEventType = "ice_candidate"
	TransportConnectionState   TransportEventType = "connection_state"
	TransportTrack             TransportEventType = "track"
	TransportNegotiationNeeded TransportEventType = "negotiation_needed"
)

// TransportEvent is the typed form of every transport callback. Adapters post
// them; the session loop consumes them one at a time.
type TransportEvent struct {
	Type       TransportEventType
	Candidate  *ICECandidate
	Connection ConnectionState
	Track      *RemoteTrack
}

type CallEventType string

const (
	EventStatus          CallEventType = "status"
	EventRemoteTrack     CallEventType = "remote_track"
	EventOfferIgnored    CallEventType = "offer_ignored"
	EventCandidateFailed CallEventType = "candidate_failed"
	EventPublishFailed   CallEventType = "publish_failed"
	EventTransportFailed CallEventType = "transport_failed"
)

type CallEvent struct {
	Type   CallEventType
	RoomID RoomID
	Status CallStatus
	Track  *RemoteTrack
	Err    error
	At     time.Time
}
