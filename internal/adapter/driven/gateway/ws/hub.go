package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var _ port.RealTimeGateway = (*Hub)(nil)

// Hub fans chat messages out to the clients connected to the same
// appointment.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan domain.Message
	register   chan Client
	unregister chan Client
	end        chan domain.AppointmentID
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan domain.Message, 256),
		register:   make(chan Client),
		unregister: make(chan Client),
		end:        make(chan domain.AppointmentID),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) BroadcastMessage(ctx context.Context, msg domain.Message) error {
	select {
	case h.broadcast <- msg:
	case <-h.quit:
		return domain.ErrClosed
	default:
		log.Warn().Str("message_id", msg.ID.String()).Msg("Broadcast channel full, dropping message")
	}
	return nil
}

// EndRoom hands the appointment to the run loop, which closes and drops its
// clients.
func (h *Hub) EndRoom(ctx context.Context, appointmentID domain.AppointmentID) error {
	select {
	case h.end <- appointmentID:
		return nil
	case <-h.quit:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().
				Str("client_id", client.ID()).
				Str("appointment_id", client.AppointmentID().String()).
				Msg("Client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
			}

		case appt := <-h.end:
			n := 0
			for client := range h.clients {
				if client.AppointmentID() != appt {
					continue
				}
				client.Close()
				delete(h.clients, client)
				n++
			}
			log.Info().Str("appointment_id", appt.String()).Int("clients", n).Msg("Room ended")

		case message := <-h.broadcast:
			for client := range h.clients {
				if client.AppointmentID() != message.AppointmentID {
					continue
				}
				if err := client.SendChat(message); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending message")
					client.Close()
					delete(h.clients, client)
				}
			}
		}
	}
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
