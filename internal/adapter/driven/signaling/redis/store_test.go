package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbcare/telecall/internal/core/domain"
)

const room = domain.RoomID("tbcare-appointment-redis")

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, time.Hour, zerolog.Nop()), mr
}

func signal(t *testing.T, sender string, kind domain.SignalKind, payload any, at time.Time) domain.SignalMessage {
	t.Helper()
	msg, err := domain.NewSignalMessage(room, domain.Identity(sender), kind, payload, at)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestInsertAndSince(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	offer := signal(t, "doctor", domain.SignalDescription, domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0"}, epoch.Add(time.Second))
	cand := signal(t, "doctor", domain.SignalCandidate, domain.ICECandidate{Candidate: "c1"}, epoch.Add(2*time.Second))
	old := signal(t, "doctor", domain.SignalCandidate, domain.ICECandidate{Candidate: "c0"}, epoch)
	for _, m := range []domain.SignalMessage{cand, old, offer} {
		if err := s.Insert(ctx, m); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.Since(ctx, room, epoch)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Since returned %d, want 2", len(got))
	}
	if got[0].ID != offer.ID || got[1].ID != cand.ID {
		t.Errorf("order = [%s %s], want [offer candidate]", got[0].Kind, got[1].Kind)
	}
	if !got[0].CreatedAt.Equal(offer.CreatedAt) || got[0].RoomID != room || got[0].Sender != "doctor" {
		t.Errorf("decoded = %+v", got[0])
	}
	var desc domain.SessionDescription
	if err := json.Unmarshal(got[0].Payload, &desc); err != nil || desc.SDP != "v=0" {
		t.Errorf("payload = %s, %v", got[0].Payload, err)
	}

	if ttl := mr.TTL(logKey(room)); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
}

func TestSubscribeReceivesInserts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	feed, err := s.Subscribe(ctx, room)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer feed.Close()

	msg := signal(t, "patient", domain.SignalCandidate, domain.ICECandidate{Candidate: "c1"}, epoch)
	if err := s.Insert(ctx, msg); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-feed.Messages():
		if got.ID != msg.ID {
			t.Errorf("received %s, want %s", got.ID, msg.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live signal")
	}
}

func TestFeedCloseEndsMessages(t *testing.T) {
	s, _ := newTestStore(t)
	feed, err := s.Subscribe(context.Background(), room)
	if err != nil {
		t.Fatal(err)
	}
	if err := feed.Close(); err != nil {
		t.Fatal(err)
	}
	if err := feed.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case _, ok := <-feed.Messages():
		if ok {
			t.Error("message after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed")
	}
}

func TestFeedEndsWithContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	feed, err := s.Subscribe(ctx, room)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	cancel()
	select {
	case _, ok := <-feed.Messages():
		if ok {
			t.Error("message after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
}

func TestDeleteBefore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	for i := 0; i < 3; i++ {
		m := signal(t, "doctor", domain.SignalCandidate, domain.ICECandidate{Candidate: "c"}, epoch.Add(time.Duration(i)*time.Minute))
		if err := s.Insert(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.DeleteBefore(ctx, room, epoch.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	left, err := s.Since(ctx, room, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Errorf("remaining = %d, want 1", len(left))
	}
}
