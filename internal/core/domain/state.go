package domain

type NegotiationState string

const (
	NegotiationIdle            NegotiationState = "idle"
	NegotiationMakingOffer     NegotiationState = "making-offer"
	NegotiationHaveLocalOffer  NegotiationState = "have-local-offer"
	NegotiationHaveRemoteOffer NegotiationState = "have-remote-offer"
	NegotiationStable          NegotiationState = "stable"
	NegotiationConnected       NegotiationState = "connected"
	NegotiationFailed          NegotiationState = "failed"
	NegotiationClosed          NegotiationState = "closed"
)

// SignalingState is the transport's offer/answer state.
type SignalingState string

const (
	SignalingStable          SignalingState = "stable"
	SignalingHaveLocalOffer  SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer SignalingState = "have-remote-offer"
	SignalingClosed          SignalingState = "closed"
)

type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// CallStatus is what the UI renders.
type CallStatus string

const (
	StatusJoining      CallStatus = "joining"
	StatusConnected    CallStatus = "connected"
	StatusDisconnected CallStatus = "disconnected"
	StatusFailed       CallStatus = "failed"
	StatusLeft         CallStatus = "left"
)
