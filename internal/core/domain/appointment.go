package domain

import (
	"fmt"
	"time"
)

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentApproved  AppointmentStatus = "approved"
	AppointmentRejected  AppointmentStatus = "rejected"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentPending:  {AppointmentApproved, AppointmentRejected, AppointmentCancelled},
	AppointmentApproved: {AppointmentCompleted, AppointmentCancelled},
}

type Appointment struct {
	ID          AppointmentID     `json:"id"`
	DoctorID    UserID            `json:"doctor_id"`
	PatientID   UserID            `json:"patient_id"`
	ScheduledAt time.Time         `json:"appointment_date"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

func NewAppointment(doctorID, patientID UserID, scheduledAt, now time.Time) (*Appointment, error) {
	if doctorID.IsZero() || patientID.IsZero() {
		return nil, fmt.Errorf("appointment needs both a doctor and a patient")
	}
	if doctorID == patientID {
		return nil, fmt.Errorf("doctor and patient must be different users")
	}
	return &Appointment{
		ID:          NewAppointmentID(),
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: scheduledAt.UTC(),
		Status:      AppointmentPending,
		CreatedAt:   now.UTC(),
	}, nil
}

func (a Appointment) Active() bool {
	return a.Status == AppointmentApproved
}

func (a Appointment) RoomID() RoomID {
	return RoomIDForAppointment(a.ID)
}

// RoleOf reports which call role the user holds, if any.
func (a Appointment) RoleOf(user UserID) (Role, bool) {
	switch user {
	case a.DoctorID:
		return RoleInitiator, true
	case a.PatientID:
		return RoleResponder, true
	}
	return "", false
}

// Counterpart returns the other participant.
func (a Appointment) Counterpart(user UserID) (UserID, bool) {
	switch user {
	case a.DoctorID:
		return a.PatientID, true
	case a.PatientID:
		return a.DoctorID, true
	}
	return UserID{}, false
}

func (a *Appointment) Transition(to AppointmentStatus) error {
	for _, allowed := range appointmentTransitions[a.Status] {
		if allowed == to {
			a.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
}
