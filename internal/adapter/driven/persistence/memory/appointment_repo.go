package memory

import (
	"context"
	"sync"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var _ port.AppointmentRepository = (*AppointmentRepository)(nil)

type AppointmentRepository struct {
	mu           sync.RWMutex
	appointments map[domain.AppointmentID]domain.Appointment
}

func NewAppointmentRepository() *AppointmentRepository {
	return &AppointmentRepository{
		appointments: make(map[domain.AppointmentID]domain.Appointment),
	}
}

func (r *AppointmentRepository) Get(ctx context.Context, id domain.AppointmentID) (domain.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return domain.Appointment{}, domain.ErrAppointmentNotFound
	}
	return a, nil
}

func (r *AppointmentRepository) Save(ctx context.Context, a domain.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments[a.ID] = a
	return nil
}
