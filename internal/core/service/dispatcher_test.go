package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/core/domain"
)

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	var statuses []domain.CallStatus
	var tracks, all int
	d.OnStatus(func(s domain.CallStatus) { statuses = append(statuses, s) })
	d.On(domain.EventRemoteTrack, func(domain.CallEvent) { tracks++ })
	d.OnAny(func(domain.CallEvent) { all++ })

	events := make(chan domain.CallEvent, 4)
	events <- domain.CallEvent{Type: domain.EventStatus, Status: domain.StatusConnected}
	events <- domain.CallEvent{Type: domain.EventRemoteTrack}
	events <- domain.CallEvent{Type: domain.EventOfferIgnored}
	events <- domain.CallEvent{Type: domain.EventStatus, Status: domain.StatusLeft}
	close(events)

	if err := d.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(statuses) != 2 || statuses[0] != domain.StatusConnected || statuses[1] != domain.StatusLeft {
		t.Errorf("statuses = %v, want [connected left]", statuses)
	}
	if tracks != 1 {
		t.Errorf("track events = %d, want 1", tracks)
	}
	if all != 4 {
		t.Errorf("all events = %d, want 4", all)
	}
}

func TestDispatcherStopsWithContext(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx, make(chan domain.CallEvent)); err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
