package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

// SignalingChannel relays descriptions and candidates between the two
// participants of a room over a durable signal store.
type SignalingChannel struct {
	store  port.SignalStore
	clock  clock.Clock
	logger zerolog.Logger
}

func NewSignalingChannel(store port.SignalStore, clk clock.Clock, logger zerolog.Logger) *SignalingChannel {
	return &SignalingChannel{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// Publish stores one signal. Failures are returned as ErrSignalingPublish
// and never retried here.
func (c *SignalingChannel) Publish(ctx context.Context, room domain.RoomID, sender domain.Identity, kind domain.SignalKind, payload any) (domain.SignalMessage, error) {
	msg, err := domain.NewSignalMessage(room, sender, kind, payload, c.clock.Now())
	if err != nil {
		return domain.SignalMessage{}, domain.WrapCallError("publish signal", domain.ErrSignalingPublish, err)
	}
	if err := c.store.Insert(ctx, msg); err != nil {
		c.logger.Error().Err(err).
			Str("room", room.String()).
			Str("kind", string(kind)).
			Msg("signal publish failed")
		return domain.SignalMessage{}, domain.WrapCallError("publish signal", domain.ErrSignalingPublish, err)
	}
	c.logger.Debug().
		Str("room", room.String()).
		Str("kind", string(kind)).
		Str("id", msg.ID.String()).
		Msg("signal published")
	return msg, nil
}

// Subscribe delivers every message published to the room after it returns,
// except the caller's own. The callback runs on one goroutine, in feed
// order. The subscription ends on Close or when ctx is done.
func (c *SignalingChannel) Subscribe(ctx context.Context, room domain.RoomID, self domain.Identity, onMessage func(domain.SignalMessage)) (*Subscription, error) {
	feed, err := c.store.Subscribe(ctx, room)
	if err != nil {
		return nil, domain.WrapCallError("subscribe", domain.ErrSignalingFetch, err)
	}
	sub := &Subscription{
		feed: feed,
		done: make(chan struct{}),
	}
	go func() {
		defer close(sub.done)
		for msg := range feed.Messages() {
			if msg.Sender == self {
				continue
			}
			onMessage(msg)
		}
	}()
	return sub, nil
}

// FetchBacklog returns recent messages from everyone but exclude. All
// descriptions come before all candidates; each group is ascending by
// creation time.
func (c *SignalingChannel) FetchBacklog(ctx context.Context, room domain.RoomID, since time.Time, exclude domain.Identity) ([]domain.SignalMessage, error) {
	all, err := c.store.Since(ctx, room, since)
	if err != nil {
		return nil, domain.WrapCallError("fetch backlog", domain.ErrSignalingFetch, err)
	}
	backlog := make([]domain.SignalMessage, 0, len(all))
	for _, m := range all {
		if m.Sender == exclude {
			continue
		}
		backlog = append(backlog, m)
	}
	OrderBacklog(backlog)
	return backlog, nil
}

// OrderBacklog sorts in place: descriptions first, then candidates, each
// by creation time.
func OrderBacklog(msgs []domain.SignalMessage) {
	rank := func(k domain.SignalKind) int {
		if k == domain.SignalDescription {
			return 0
		}
		return 1
	}
	slices.SortStableFunc(msgs, func(a, b domain.SignalMessage) int {
		if r := rank(a.Kind) - rank(b.Kind); r != 0 {
			return r
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// Prune deletes messages created before olderThan. It is best effort.
func (c *SignalingChannel) Prune(ctx context.Context, room domain.RoomID, olderThan time.Time) int {
	n, err := c.store.DeleteBefore(ctx, room, olderThan)
	if err != nil {
		c.logger.Warn().Err(err).Str("room", room.String()).Msg("signal prune failed")
		return 0
	}
	if n > 0 {
		c.logger.Debug().Int("deleted", n).Str("room", room.String()).Msg("pruned stale signals")
	}
	return n
}

type Subscription struct {
	feed port.SignalFeed
	done chan struct{}

	once sync.Once
	err  error
}

// Close stops delivery and waits for the callback goroutine to return.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.err = s.feed.Close()
		<-s.done
	})
	return s.err
}

// Done is closed once no more callbacks will run.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
