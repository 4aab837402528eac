// Package redis stores signals in Redis. Each room is a sorted set scored by
// creation time in milliseconds, and new inserts are fanned out on a pub/sub
// channel.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

const keyPrefix = "telecall:signals:"

var _ port.SignalStore = (*Store)(nil)

type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewStore keeps each room's log alive for ttl after its last insert.
func NewStore(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

type record struct {
	ID        string `msgpack:"id"`
	Sender    string `msgpack:"sender"`
	Kind      string `msgpack:"kind"`
	Payload   []byte `msgpack:"payload"`
	CreatedAt int64  `msgpack:"created_at"`
}

func encode(msg domain.SignalMessage) ([]byte, error) {
	return msgpack.Marshal(record{
		ID:        msg.ID.String(),
		Sender:    string(msg.Sender),
		Kind:      string(msg.Kind),
		Payload:   msg.Payload,
		CreatedAt: msg.CreatedAt.UnixNano(),
	})
}

func decode(room domain.RoomID, b []byte) (domain.SignalMessage, error) {
	var r record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return domain.SignalMessage{}, err
	}
	id, err := domain.ParseMessageID(r.ID)
	if err != nil {
		return domain.SignalMessage{}, fmt.Errorf("signal id: %w", err)
	}
	return domain.SignalMessage{
		ID:        id,
		RoomID:    room,
		Sender:    domain.Identity(r.Sender),
		Kind:      domain.SignalKind(r.Kind),
		Payload:   r.Payload,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

func logKey(room domain.RoomID) string {
	return keyPrefix + string(room)
}

func liveChannel(room domain.RoomID) string {
	return keyPrefix + string(room) + ":live"
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (s *Store) Insert(ctx context.Context, msg domain.SignalMessage) error {
	b, err := encode(msg)
	if err != nil {
		return fmt.Errorf("encoding signal: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, logKey(msg.RoomID), redis.Z{Score: score(msg.CreatedAt), Member: b})
		pipe.Publish(ctx, liveChannel(msg.RoomID), b)
		if s.ttl > 0 {
			pipe.Expire(ctx, logKey(msg.RoomID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing signal in Redis: %w", err)
	}
	return nil
}

func (s *Store) Since(ctx context.Context, room domain.RoomID, since time.Time) ([]domain.SignalMessage, error) {
	// Scores are milliseconds; the exact bound is applied after decoding.
	members, err := s.client.ZRangeByScore(ctx, logKey(room), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading signals from Redis: %w", err)
	}
	out := make([]domain.SignalMessage, 0, len(members))
	for _, m := range members {
		msg, err := decode(room, []byte(m))
		if err != nil {
			s.logger.Warn().Err(err).Str("room", room.String()).Msg("undecodable signal skipped")
			continue
		}
		if msg.CreatedAt.After(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Subscribe follows the room's live signals. The feed ends when closed or
// when ctx is done.
func (s *Store) Subscribe(ctx context.Context, room domain.RoomID) (port.SignalFeed, error) {
	pubsub := s.client.Subscribe(ctx, liveChannel(room))
	// Wait for the confirmation so nothing published after return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", room, err)
	}
	f := &feed{
		pubsub: pubsub,
		out:    make(chan domain.SignalMessage),
		quit:   make(chan struct{}),
	}
	go f.pump(room, s.logger)
	go func() {
		select {
		case <-ctx.Done():
			_ = f.Close()
		case <-f.quit:
		}
	}()
	return f, nil
}

func (s *Store) DeleteBefore(ctx context.Context, room domain.RoomID, before time.Time) (int, error) {
	n, err := s.client.ZRemRangeByScore(ctx, logKey(room), "-inf", "("+strconv.FormatInt(before.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("pruning signals in Redis: %w", err)
	}
	return int(n), nil
}

type feed struct {
	pubsub *redis.PubSub
	out    chan domain.SignalMessage
	quit   chan struct{}
	once   sync.Once
}

func (f *feed) pump(room domain.RoomID, logger zerolog.Logger) {
	defer close(f.out)
	for m := range f.pubsub.Channel() {
		msg, err := decode(room, []byte(m.Payload))
		if err != nil {
			logger.Warn().Err(err).Str("room", room.String()).Msg("undecodable live signal skipped")
			continue
		}
		select {
		case f.out <- msg:
		case <-f.quit:
			return
		}
	}
}

func (f *feed) Messages() <-chan domain.SignalMessage {
	return f.out
}

func (f *feed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.quit)
		err = f.pubsub.Close()
	})
	return err
}
