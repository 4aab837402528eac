package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/core/domain"
)

type EventHandler func(domain.CallEvent)

// Dispatcher is the single consumer of a session's events. Handlers run on
// the dispatcher goroutine in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.CallEventType][]EventHandler
	any      []EventHandler
	logger   zerolog.Logger
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.CallEventType][]EventHandler),
		logger:   logger,
	}
}

func (d *Dispatcher) On(typ domain.CallEventType, h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[typ] = append(d.handlers[typ], h)
}

// OnAny registers a handler for every event type.
func (d *Dispatcher) OnAny(h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.any = append(d.any, h)
}

func (d *Dispatcher) OnStatus(h func(domain.CallStatus)) {
	d.On(domain.EventStatus, func(ev domain.CallEvent) {
		h(ev.Status)
	})
}

func (d *Dispatcher) Dispatch(ev domain.CallEvent) {
	d.mu.RLock()
	hs := append([]EventHandler(nil), d.handlers[ev.Type]...)
	hs = append(hs, d.any...)
	d.mu.RUnlock()

	if len(hs) == 0 {
		d.logger.Debug().Str("type", string(ev.Type)).Msg("no handler for call event")
		return
	}
	for _, h := range hs {
		h(ev)
	}
}

// Run dispatches until events is closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.CallEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Dispatch(ev)
		}
	}
}
