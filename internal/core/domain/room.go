package domain

import (
	"fmt"
	"strings"
)

// RoomID names a call session. Rooms are derived from appointments so both
// participants compute the same id without coordination.
type RoomID string

const roomPrefix = "tbcare-appointment-"

func RoomIDForAppointment(id AppointmentID) RoomID {
	return RoomID(roomPrefix + id.String())
}

// AppointmentID recovers the appointment a room was derived from.
func (r RoomID) AppointmentID() (AppointmentID, error) {
	s, ok := strings.CutPrefix(string(r), roomPrefix)
	if !ok {
		return AppointmentID{}, fmt.Errorf("%w: %q", ErrInvalidRoom, string(r))
	}
	return ParseAppointmentID(s)
}

func (r RoomID) String() string {
	return string(r)
}

// Identity is the opaque sender tag stamped on every signal. Receivers only
// compare it for equality.
type Identity string

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// DefaultPoliteness maps roles to perfect-negotiation politeness. The doctor
// joins as initiator and wins offer collisions.
var DefaultPoliteness = map[Role]bool{
	RoleInitiator: false,
	RoleResponder: true,
}

func (r Role) Valid() bool {
	_, ok := DefaultPoliteness[r]
	return ok
}

func (r Role) Polite() bool {
	return DefaultPoliteness[r]
}

type RoomConfig struct {
	RoomID      RoomID
	Identity    Identity
	Role        Role
	DisplayName string
}

func (c RoomConfig) Polite() bool {
	return c.Role.Polite()
}

func (c RoomConfig) Validate() error {
	if c.RoomID == "" {
		return fmt.Errorf("%w: empty room id", ErrInvalidRoom)
	}
	if c.Identity == "" {
		return fmt.Errorf("%w: empty identity", ErrInvalidRoom)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRoom, string(c.Role))
	}
	return nil
}
