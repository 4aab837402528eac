// Package memory is an in-process signal store. It backs tests and the
// single-node relay server.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var _ port.SignalStore = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	rooms map[domain.RoomID][]domain.SignalMessage
	feeds map[domain.RoomID]map[*Feed]struct{}

	// InsertErr, SinceErr and SubscribeErr make the matching call fail.
	InsertErr    error
	SinceErr     error
	SubscribeErr error
}

func NewStore() *Store {
	return &Store{
		rooms: make(map[domain.RoomID][]domain.SignalMessage),
		feeds: make(map[domain.RoomID]map[*Feed]struct{}),
	}
}

func (s *Store) Insert(_ context.Context, msg domain.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}

	msgs := s.rooms[msg.RoomID]
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.After(msg.CreatedAt)
	})
	msgs = append(msgs, domain.SignalMessage{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	s.rooms[msg.RoomID] = msgs

	for f := range s.feeds[msg.RoomID] {
		f.Push(msg)
	}
	return nil
}

func (s *Store) Since(_ context.Context, room domain.RoomID, since time.Time) ([]domain.SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SinceErr != nil {
		return nil, s.SinceErr
	}
	var out []domain.SignalMessage
	for _, m := range s.rooms[room] {
		if m.CreatedAt.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, room domain.RoomID) (port.SignalFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	f := NewFeed(ctx, func(f *Feed) {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.feeds[room], f)
		if len(s.feeds[room]) == 0 {
			delete(s.feeds, room)
		}
	})
	if s.feeds[room] == nil {
		s.feeds[room] = make(map[*Feed]struct{})
	}
	s.feeds[room][f] = struct{}{}
	return f, nil
}

func (s *Store) DeleteBefore(_ context.Context, room domain.RoomID, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.rooms[room]
	kept := msgs[:0]
	for _, m := range msgs {
		if m.CreatedAt.Before(before) {
			continue
		}
		kept = append(kept, m)
	}
	deleted := len(msgs) - len(kept)
	if len(kept) == 0 {
		delete(s.rooms, room)
	} else {
		s.rooms[room] = kept
	}
	return deleted, nil
}

// Subscribers counts open feeds for a room.
func (s *Store) Subscribers(room domain.RoomID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds[room])
}

// Len counts stored messages for a room.
func (s *Store) Len(room domain.RoomID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[room])
}
