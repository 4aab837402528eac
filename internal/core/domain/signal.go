package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type SignalKind string

const (
	SignalDescription SignalKind = "description"
	SignalCandidate   SignalKind = "candidate"
)

func (k SignalKind) Valid() bool {
	return k == SignalDescription || k == SignalCandidate
}

type SDPType string

const (
	SDPOffer    SDPType = "offer"
	SDPAnswer   SDPType = "answer"
	SDPRollback SDPType = "rollback"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit dictionary so payloads
// written by web clients decode unchanged.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalMessage is one immutable unit of signaling. Payload holds either a
// SessionDescription or an ICECandidate as JSON depending on Kind.
type SignalMessage struct {
	ID        MessageID       `json:"id"`
	RoomID    RoomID          `json:"room_id"`
	Sender    Identity        `json:"sender"`
	Kind      SignalKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewSignalMessage(roomID RoomID, sender Identity, kind SignalKind, payload any, now time.Time) (SignalMessage, error) {
	if !kind.Valid() {
		return SignalMessage{}, fmt.Errorf("unknown signal kind %q", string(kind))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return SignalMessage{
		ID:        NewMessageID(),
		RoomID:    roomID,
		Sender:    sender,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: now.UTC(),
	}, nil
}

func (m SignalMessage) Description() (SessionDescription, error) {
	if m.Kind != SignalDescription {
		return SessionDescription{}, fmt.Errorf("signal %s is a %s, not a description", m.ID, m.Kind)
	}
	var desc SessionDescription
	if err := json.Unmarshal(m.Payload, &desc); err != nil {
		return SessionDescription{}, fmt.Errorf("decoding description %s: %w", m.ID, err)
	}
	if desc.Type != SDPOffer && desc.Type != SDPAnswer {
		return SessionDescription{}, fmt.Errorf("description %s has unexpected type %q", m.ID, string(desc.Type))
	}
	return desc, nil
}

func (m SignalMessage) Candidate() (ICECandidate, error) {
	if m.Kind != SignalCandidate {
		return ICECandidate{}, fmt.Errorf("signal %s is a %s, not a candidate", m.ID, m.Kind)
	}
	var c ICECandidate
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		return ICECandidate{}, fmt.Errorf("decoding candidate %s: %w", m.ID, err)
	}
	return c, nil
}
