package service

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

type ChatService struct {
	repo         port.MessageRepository
	appointments port.AppointmentRepository
	gateway      port.RealTimeGateway
	clock        clock.Clock
}

func NewChatService(repo port.MessageRepository, appointments port.AppointmentRepository, gateway port.RealTimeGateway, clk clock.Clock) *ChatService {
	return &ChatService{
		repo:         repo,
		appointments: appointments,
		gateway:      gateway,
		clock:        clk,
	}
}

func (s *ChatService) SendMessage(ctx context.Context, senderID domain.UserID, appointmentID domain.AppointmentID, content string) (*domain.Message, error) {
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	receiverID, ok := appt.Counterpart(senderID)
	if !ok {
		return nil, domain.ErrNotParticipant
	}

	msg, err := domain.NewMessage(appointmentID, senderID, receiverID, content, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, *msg); err != nil {
		return nil, err
	}
	if err := s.gateway.BroadcastMessage(ctx, *msg); err != nil {
		// Stored already; the peer sees it on the next history fetch.
		log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("Broadcast failed")
	}
	return msg, nil
}

// History lists the appointment's messages oldest first and marks the ones
// addressed to the reader as read.
func (s *ChatService) History(ctx context.Context, readerID domain.UserID, appointmentID domain.AppointmentID) ([]domain.Message, error) {
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if _, ok := appt.RoleOf(readerID); !ok {
		return nil, domain.ErrNotParticipant
	}

	msgs, err := s.repo.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.MarkRead(ctx, appointmentID, readerID)
	if err != nil {
		log.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("Failed to mark messages read")
	} else if n > 0 {
		log.Debug().Int("count", n).Str("appointment_id", appointmentID.String()).Msg("Messages marked read")
	}
	return msgs, nil
}
