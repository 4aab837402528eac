package ws

import "github.com/tbcare/telecall/internal/core/domain"

// Client is one connected participant as seen by the hub.
type Client interface {
	ID() string
	AppointmentID() domain.AppointmentID
	SendChat(msg domain.Message) error
	Close() error
}
