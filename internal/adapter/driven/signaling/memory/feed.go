package memory

import (
	"context"
	"sync"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var _ port.SignalFeed = (*Feed)(nil)

// Feed buffers without bound so a producer never blocks on a slow reader.
// It ends when closed or when its context is done.
type Feed struct {
	mu      sync.Mutex
	pending []domain.SignalMessage
	wake    chan struct{}

	out     chan domain.SignalMessage
	quit    chan struct{}
	once    sync.Once
	onClose func(*Feed)
}

// NewFeed starts a feed. onClose, if set, runs once when the feed ends.
func NewFeed(ctx context.Context, onClose func(*Feed)) *Feed {
	f := &Feed{
		wake:    make(chan struct{}, 1),
		out:     make(chan domain.SignalMessage),
		quit:    make(chan struct{}),
		onClose: onClose,
	}
	go f.pump(ctx)
	return f
}

func (f *Feed) Push(msg domain.SignalMessage) {
	f.mu.Lock()
	f.pending = append(f.pending, msg)
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Feed) pump(ctx context.Context) {
	defer close(f.out)
	for {
		f.mu.Lock()
		batch := f.pending
		f.pending = nil
		f.mu.Unlock()

		for _, msg := range batch {
			select {
			case f.out <- msg:
			case <-f.quit:
				return
			case <-ctx.Done():
				f.Close()
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-f.wake:
		case <-f.quit:
			return
		case <-ctx.Done():
			f.Close()
			return
		}
	}
}

func (f *Feed) Messages() <-chan domain.SignalMessage {
	return f.out
}

func (f *Feed) Close() error {
	f.once.Do(func() {
		close(f.quit)
		if f.onClose != nil {
			f.onClose(f)
		}
	})
	return nil
}
