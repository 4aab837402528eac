// Package wsclient is a signal store that talks to the relay server over
// its websocket. One store serves the single room the relay admitted the
// caller to.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/adapter/driven/signaling/memory"
	"github.com/tbcare/telecall/internal/adapter/wire"
	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var _ port.SignalStore = (*Store)(nil)

const (
	writeWait     = 10 * time.Second
	handshakeWait = 10 * time.Second
)

var ErrRelay = errors.New("relay rejected request")

type Store struct {
	conn   *websocket.Conn
	hello  wire.Hello
	logger zerolog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan wire.Envelope
	feeds   map[*memory.Feed]struct{}
	chats   chan domain.Message

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// RelayURL builds the websocket address of an appointment's room.
func RelayURL(server string, appointmentID domain.AppointmentID, token string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path += "/ws/appointments/" + appointmentID.String()
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// Dial connects and waits for the relay's hello.
func Dial(ctx context.Context, relayURL string, logger zerolog.Logger) (*Store, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	var first wire.Envelope
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if first.Type != wire.TypeHello || first.Hello == nil {
		conn.Close()
		return nil, fmt.Errorf("%w: expected hello, got %s %s", ErrRelay, first.Type, first.Error)
	}
	conn.SetReadDeadline(time.Time{})

	s := &Store{
		conn:    conn,
		hello:   *first.Hello,
		logger:  logger.With().Str("room", first.Hello.Room.String()).Logger(),
		pending: make(map[string]chan wire.Envelope),
		feeds:   make(map[*memory.Feed]struct{}),
		chats:   make(chan domain.Message, 16),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Hello is who the relay admitted us as.
func (s *Store) Hello() wire.Hello {
	return s.hello
}

// Chats delivers chat lines pushed by the relay. Lines arriving while the
// buffer is full are dropped.
func (s *Store) Chats() <-chan domain.Message {
	return s.chats
}

// Done is closed once the connection is gone.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

func (s *Store) readLoop() {
	defer func() {
		s.mu.Lock()
		feeds := s.feeds
		s.feeds = make(map[*memory.Feed]struct{})
		s.mu.Unlock()
		for f := range feeds {
			f.Close()
		}
		close(s.done)
	}()

	for {
		var env wire.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			select {
			case <-s.quit:
			default:
				s.logger.Warn().Err(err).Msg("relay connection lost")
			}
			return
		}
		switch env.Type {
		case wire.TypeSignal:
			if env.Message == nil {
				continue
			}
			s.mu.Lock()
			for f := range s.feeds {
				f.Push(*env.Message)
			}
			s.mu.Unlock()
		case wire.TypeChat:
			if env.Chat == nil {
				continue
			}
			select {
			case s.chats <- *env.Chat:
			default:
				s.logger.Warn().Str("message_id", env.Chat.ID.String()).Msg("chat buffer full, dropping line")
			}
		default:
			s.resolve(env)
		}
	}
}

func (s *Store) resolve(env wire.Envelope) {
	s.mu.Lock()
	ch, ok := s.pending[env.RequestID]
	delete(s.pending, env.RequestID)
	s.mu.Unlock()
	if !ok {
		s.logger.Debug().Str("type", string(env.Type)).Str("request_id", env.RequestID).Msg("unsolicited relay frame")
		return
	}
	ch <- env
}

func (s *Store) request(ctx context.Context, env wire.Envelope) (wire.Envelope, error) {
	env.RequestID = strconv.FormatUint(s.nextID.Add(1), 10)
	reply := make(chan wire.Envelope, 1)

	s.mu.Lock()
	s.pending[env.RequestID] = reply
	s.mu.Unlock()
	forget := func() {
		s.mu.Lock()
		delete(s.pending, env.RequestID)
		s.mu.Unlock()
	}

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := s.conn.WriteJSON(env)
	s.writeMu.Unlock()
	if err != nil {
		forget()
		return wire.Envelope{}, err
	}

	select {
	case resp := <-reply:
		if resp.Type == wire.TypeError {
			return resp, fmt.Errorf("%w: %s", ErrRelay, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		forget()
		return wire.Envelope{}, ctx.Err()
	case <-s.done:
		return wire.Envelope{}, domain.ErrClosed
	}
}

func (s *Store) checkRoom(room domain.RoomID) error {
	if room != s.hello.Room {
		return fmt.Errorf("%w: connected to %s, not %s", domain.ErrInvalidRoom, s.hello.Room, room)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, msg domain.SignalMessage) error {
	if err := s.checkRoom(msg.RoomID); err != nil {
		return err
	}
	_, err := s.request(ctx, wire.Envelope{Type: wire.TypePublish, Message: &msg})
	return err
}

func (s *Store) Since(ctx context.Context, room domain.RoomID, since time.Time) ([]domain.SignalMessage, error) {
	if err := s.checkRoom(room); err != nil {
		return nil, err
	}
	resp, err := s.request(ctx, wire.Envelope{Type: wire.TypeBacklog, Since: &since})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (s *Store) Subscribe(ctx context.Context, room domain.RoomID) (port.SignalFeed, error) {
	if err := s.checkRoom(room); err != nil {
		return nil, err
	}
	select {
	case <-s.done:
		return nil, domain.ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := memory.NewFeed(ctx, func(f *memory.Feed) {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.feeds, f)
	})
	s.feeds[f] = struct{}{}
	return f, nil
}

func (s *Store) DeleteBefore(ctx context.Context, room domain.RoomID, before time.Time) (int, error) {
	if err := s.checkRoom(room); err != nil {
		return 0, err
	}
	resp, err := s.request(ctx, wire.Envelope{Type: wire.TypePrune, OlderThan: &before})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Close sends a close frame and waits for the read loop to end.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		select {
		case <-s.done:
		case <-time.After(writeWait):
		}
		err = s.conn.Close()
		<-s.done
	})
	return err
}
