package domain

import (
	"strings"
	"time"
)

// Message is a chat line exchanged inside an appointment.
type Message struct {
	ID            MessageID     `json:"id"`
	AppointmentID AppointmentID `json:"appointment_id"`
	SenderID      UserID        `json:"sender_id"`
	ReceiverID    UserID        `json:"receiver_id"`
	Content       string        `json:"content"`
	IsRead        bool          `json:"is_read"`
	CreatedAt     time.Time     `json:"created_at"`
}

func NewMessage(appointmentID AppointmentID, senderID, receiverID UserID, content string, now time.Time) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	return &Message{
		ID:            NewMessageID(),
		AppointmentID: appointmentID,
		SenderID:      senderID,
		ReceiverID:    receiverID,
		Content:       content,
		CreatedAt:     now.UTC(),
	}, nil
}
