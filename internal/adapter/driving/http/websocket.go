package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbcare/telecall/internal/adapter/wire"
	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var errSendBufferFull = errors.New("send buffer full")

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser peers send no origin.
			return origin == "" || slices.Contains(h.AllowedOrigins, "*") || slices.Contains(h.AllowedOrigins, origin)
		},
	}
}

// relayConn is one participant's websocket. It is both a signaling relay
// endpoint and a chat hub client.
type relayConn struct {
	id     string
	room   domain.RoomConfig
	appt   domain.AppointmentID
	conn   *websocket.Conn
	send   chan wire.Envelope
	logger zerolog.Logger

	quit      chan struct{}
	closeOnce sync.Once
}

func (c *relayConn) ID() string {
	return c.id
}

func (c *relayConn) AppointmentID() domain.AppointmentID {
	return c.appt
}

func (c *relayConn) SendChat(msg domain.Message) error {
	return c.enqueue(wire.Envelope{Type: wire.TypeChat, Chat: &msg})
}

// Close stops the write pump, which closes the socket.
func (c *relayConn) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	return nil
}

func (c *relayConn) enqueue(env wire.Envelope) error {
	select {
	case <-c.quit:
		return domain.ErrClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.quit:
		return domain.ErrClosed
	default:
		return errSendBufferFull
	}
}

func (c *relayConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Error().Err(err).Msg("Error writing frame")
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.quit:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// forward relays the room's live signals until the feed or the connection
// ends.
func (c *relayConn) forward(feed port.SignalFeed) {
	for {
		select {
		case msg, ok := <-feed.Messages():
			if !ok {
				c.Close()
				return
			}
			if err := c.enqueue(wire.Envelope{Type: wire.TypeSignal, Message: &msg}); err != nil {
				c.logger.Warn().Err(err).Str("signal_id", msg.ID.String()).Msg("Dropping slow relay client")
				c.Close()
				return
			}
		case <-c.quit:
			return
		}
	}
}

// ServeWS authorizes the caller for the appointment's room and then relays
// signals in both directions.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	apptID, ok := appointmentParam(w, r)
	if !ok {
		return
	}
	room, err := h.RoomService.Authorize(r.Context(), apptID, user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	room.DisplayName = user.Name
	c := &relayConn{
		id:   uuid.NewString(),
		room: room,
		appt: apptID,
		conn: conn,
		send: make(chan wire.Envelope, sendBuffer),
		quit: make(chan struct{}),
		logger: log.With().
			Str("room", room.RoomID.String()).
			Str("identity", string(room.Identity)).
			Logger(),
	}
	c.logger.Info().Str("role", string(room.Role)).Msg("Relay client connected")

	feed, err := h.Signals.Subscribe(ctx, room.RoomID)
	if err != nil {
		c.logger.Error().Err(err).Msg("Signal subscription failed")
		conn.WriteJSON(wire.ErrorEnvelope("", "signal subscription failed"))
		conn.Close()
		return
	}

	_ = c.enqueue(wire.Envelope{Type: wire.TypeHello, Hello: &wire.Hello{
		AppointmentID: apptID,
		Room:          room.RoomID,
		Identity:      room.Identity,
		Role:          room.Role,
		Polite:        room.Polite(),
		DisplayName:   room.DisplayName,
	}})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.forward(feed)
	}()
	h.Hub.Register(c)

	defer func() {
		c.logger.Info().Msg("Relay client disconnected")
		h.Hub.Unregister(c)
		c.Close()
		feed.Close()
		wg.Wait()
	}()

	h.readPump(ctx, c)
}

func (h *Handler) readPump(ctx context.Context, c *relayConn) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req wire.Envelope
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		reply := h.handleFrame(ctx, c.room, req)
		if err := c.enqueue(reply); err != nil {
			c.logger.Warn().Err(err).Str("type", string(req.Type)).Msg("Reply dropped")
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, room domain.RoomConfig, req wire.Envelope) wire.Envelope {
	l := log.With().Str("room", room.RoomID.String()).Str("type", string(req.Type)).Logger()
	switch req.Type {
	case wire.TypePublish:
		if req.Message == nil {
			return wire.ErrorEnvelope(req.RequestID, "publish without message")
		}
		msg := *req.Message
		if !msg.Kind.Valid() {
			return wire.ErrorEnvelope(req.RequestID, "unknown signal kind")
		}
		// The relay owns id, room, sender and ordering time.
		msg.ID = domain.NewMessageID()
		msg.RoomID = room.RoomID
		msg.Sender = room.Identity
		msg.CreatedAt = h.Clock.Now().UTC()
		if err := h.Signals.Insert(ctx, msg); err != nil {
			l.Error().Err(err).Msg("Signal insert failed")
			return wire.ErrorEnvelope(req.RequestID, "publish failed")
		}
		return wire.Envelope{Type: wire.TypeAck, RequestID: req.RequestID, Message: &msg}

	case wire.TypeBacklog:
		if req.Since == nil {
			return wire.ErrorEnvelope(req.RequestID, "backlog without since")
		}
		msgs, err := h.Signals.Since(ctx, room.RoomID, *req.Since)
		if err != nil {
			l.Error().Err(err).Msg("Backlog query failed")
			return wire.ErrorEnvelope(req.RequestID, "backlog failed")
		}
		return wire.Envelope{Type: wire.TypeBacklog, RequestID: req.RequestID, Messages: msgs}

	case wire.TypePrune:
		if req.OlderThan == nil {
			return wire.ErrorEnvelope(req.RequestID, "prune without older_than")
		}
		n, err := h.Signals.DeleteBefore(ctx, room.RoomID, *req.OlderThan)
		if err != nil {
			l.Error().Err(err).Msg("Prune failed")
			return wire.ErrorEnvelope(req.RequestID, "prune failed")
		}
		return wire.Envelope{Type: wire.TypePruned, RequestID: req.RequestID, Count: n}
	}
	return wire.ErrorEnvelope(req.RequestID, "unknown frame type")
}
