package port

import (
	"context"
	"time"

	"github.com/tbcare/telecall/internal/core/domain"
)

// SignalStore is a durable, queryable log of signal messages per room with
// live delivery of new inserts.
type SignalStore interface {
	Insert(ctx context.Context, msg domain.SignalMessage) error

	// Since returns messages created strictly after since, ascending by
	// creation time.
	Since(ctx context.Context, room domain.RoomID, since time.Time) ([]domain.SignalMessage, error)

	// Subscribe delivers every message inserted after it returns. Delivery is
	// at least once and ordered per sender.
	Subscribe(ctx context.Context, room domain.RoomID) (SignalFeed, error)

	DeleteBefore(ctx context.Context, room domain.RoomID, before time.Time) (int, error)
}

type SignalFeed interface {
	// Messages is closed once the feed ends.
	Messages() <-chan domain.SignalMessage
	Close() error
}
