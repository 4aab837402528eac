// Package wire defines the JSON frames exchanged with the relay over its
// websocket.
package wire

import (
	"time"

	"github.com/tbcare/telecall/internal/core/domain"
)

type Type string

// Server to client.
const (
	TypeHello   Type = "hello"
	TypeSignal  Type = "signal"
	TypeBacklog Type = "backlog"
	TypePruned  Type = "pruned"
	TypeAck     Type = "ack"
	TypeChat    Type = "chat"
	TypeError   Type = "error"
)

// Client to server. Backlog requests reuse TypeBacklog.
const (
	TypePublish Type = "publish"
	TypePrune   Type = "prune"
)

// Hello is the first frame on every connection. It tells the peer who the
// relay authenticated it as and which role it holds in the room.
type Hello struct {
	AppointmentID domain.AppointmentID `json:"appointment_id"`
	Room          domain.RoomID        `json:"room"`
	Identity      domain.Identity      `json:"identity"`
	Role          domain.Role          `json:"role"`
	Polite        bool                 `json:"polite"`
	DisplayName   string               `json:"display_name,omitempty"`
}

func (h Hello) RoomConfig() domain.RoomConfig {
	return domain.RoomConfig{
		RoomID:      h.Room,
		Identity:    h.Identity,
		Role:        h.Role,
		DisplayName: h.DisplayName,
	}
}

type Envelope struct {
	Type      Type                   `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	Message   *domain.SignalMessage  `json:"message,omitempty"`
	Messages  []domain.SignalMessage `json:"messages,omitempty"`
	Since     *time.Time             `json:"since,omitempty"`
	OlderThan *time.Time             `json:"older_than,omitempty"`
	Count     int                    `json:"count,omitempty"`
	Chat      *domain.Message        `json:"chat,omitempty"`
	Hello     *Hello                 `json:"hello,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func ErrorEnvelope(requestID, msg string) Envelope {
	return Envelope{Type: TypeError, RequestID: requestID, Error: msg}
}
