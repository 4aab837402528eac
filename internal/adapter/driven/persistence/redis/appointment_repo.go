// Package redis persists appointments in Redis as JSON documents.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var _ port.AppointmentRepository = (*AppointmentRepository)(nil)

type AppointmentRepository struct {
	client *redis.Client
}

func NewAppointmentRepository(client *redis.Client) *AppointmentRepository {
	return &AppointmentRepository{client: client}
}

func appointmentKey(id domain.AppointmentID) string {
	return "telecall:appointment:" + id.String()
}

func (r *AppointmentRepository) Get(ctx context.Context, id domain.AppointmentID) (domain.Appointment, error) {
	data, err := r.client.Get(ctx, appointmentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Appointment{}, domain.ErrAppointmentNotFound
	}
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("loading appointment %s: %w", id, err)
	}
	var a domain.Appointment
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.Appointment{}, fmt.Errorf("decoding appointment %s: %w", id, err)
	}
	return a, nil
}

func (r *AppointmentRepository) Save(ctx context.Context, a domain.Appointment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding appointment %s: %w", a.ID, err)
	}
	if err := r.client.Set(ctx, appointmentKey(a.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("storing appointment %s: %w", a.ID, err)
	}
	return nil
}
