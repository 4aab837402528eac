package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

// RoomService turns an appointment and a user into the room configuration
// the call engine trusts.
type RoomService struct {
	appointments port.AppointmentRepository
}

func NewRoomService(appointments port.AppointmentRepository) *RoomService {
	return &RoomService{
		appointments: appointments,
	}
}

// Authorize admits the doctor as initiator and the patient as responder of
// an approved appointment.
func (s *RoomService) Authorize(ctx context.Context, appointmentID domain.AppointmentID, userID domain.UserID) (domain.RoomConfig, error) {
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return domain.RoomConfig{}, err
	}
	if !appt.Active() {
		return domain.RoomConfig{}, fmt.Errorf("%w: status is %s", domain.ErrAppointmentNotActive, appt.Status)
	}
	role, ok := appt.RoleOf(userID)
	if !ok {
		log.Warn().
			Str("appointment_id", appointmentID.String()).
			Str("user_id", userID.String()).
			Msg("Room access denied")
		return domain.RoomConfig{}, domain.ErrNotParticipant
	}
	return domain.RoomConfig{
		RoomID:   appt.RoomID(),
		Identity: domain.Identity(userID.String()),
		Role:     role,
	}, nil
}
