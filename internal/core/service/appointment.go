package service

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

type AppointmentService struct {
	repo    port.AppointmentRepository
	gateway port.RealTimeGateway
	clock   clock.Clock
}

func NewAppointmentService(repo port.AppointmentRepository, gateway port.RealTimeGateway, clk clock.Clock) *AppointmentService {
	return &AppointmentService{
		repo:    repo,
		gateway: gateway,
		clock:   clk,
	}
}

// Book creates a pending appointment requested by the patient.
func (s *AppointmentService) Book(ctx context.Context, patientID, doctorID domain.UserID, scheduledAt time.Time) (*domain.Appointment, error) {
	appt, err := domain.NewAppointment(doctorID, patientID, scheduledAt, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, *appt); err != nil {
		return nil, err
	}
	log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("Appointment booked")
	return appt, nil
}

// Get returns the appointment if the user takes part in it.
func (s *AppointmentService) Get(ctx context.Context, id domain.AppointmentID, userID domain.UserID) (*domain.Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := appt.RoleOf(userID); !ok {
		return nil, domain.ErrNotParticipant
	}
	return &appt, nil
}

// UpdateStatus moves the appointment along its lifecycle. Only the doctor
// may do so. Leaving approved ends the call room.
func (s *AppointmentService) UpdateStatus(ctx context.Context, id domain.AppointmentID, userID domain.UserID, status domain.AppointmentStatus) (*domain.Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != userID {
		return nil, domain.ErrNotParticipant
	}
	from := appt.Status
	if err := appt.Transition(status); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, appt); err != nil {
		return nil, err
	}
	log.Info().
		Str("appointment_id", id.String()).
		Str("from", string(from)).
		Str("to", string(status)).
		Msg("Appointment status changed")

	if from == domain.AppointmentApproved && !appt.Active() {
		if err := s.gateway.EndRoom(ctx, id); err != nil {
			log.Warn().Err(err).Str("appointment_id", id.String()).Msg("Failed to end room")
		}
	}
	return &appt, nil
}
