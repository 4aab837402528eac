package port

import (
	"context"

	"github.com/tbcare/telecall/internal/core/domain"
)

type MessageRepository interface {
	Save(ctx context.Context, msg domain.Message) error
	ListByAppointment(ctx context.Context, id domain.AppointmentID) ([]domain.Message, error)
	MarkRead(ctx context.Context, id domain.AppointmentID, receiver domain.UserID) (int, error)
}

type AppointmentRepository interface {
	// Get returns domain.ErrAppointmentNotFound for unknown ids.
	Get(ctx context.Context, id domain.AppointmentID) (domain.Appointment, error)
	Save(ctx context.Context, a domain.Appointment) error
}
