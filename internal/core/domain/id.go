package domain

import (
	"github.com/google/uuid"
)

type UserID uuid.UUID
type AppointmentID uuid.UUID
type MessageID uuid.UUID

func NewUserID() UserID {
	return UserID(uuid.New())
}

func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(id), nil
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

func (id UserID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func NewAppointmentID() AppointmentID {
	return AppointmentID(uuid.New())
}

func ParseAppointmentID(s string) (AppointmentID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return AppointmentID{}, err
	}
	return AppointmentID(id), nil
}

func (id AppointmentID) String() string {
	return uuid.UUID(id).String()
}

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func ParseMessageID(s string) (MessageID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return MessageID{}, err
	}
	return MessageID(id), nil
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

func (id MessageID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *MessageID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id UserID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AppointmentID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *AppointmentID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
