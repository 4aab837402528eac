package port

import (
	"context"

	"github.com/tbcare/telecall/internal/core/domain"
)

// RealTimeGateway reaches the participants currently connected to an
// appointment.
type RealTimeGateway interface {
	BroadcastMessage(ctx context.Context, msg domain.Message) error
	// EndRoom disconnects every participant of the appointment.
	EndRoom(ctx context.Context, appointmentID domain.AppointmentID) error
}
