package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tbcare/telecall/internal/core/domain"
	"github.com/tbcare/telecall/internal/core/port"
)

var _ port.MessageRepository = (*MessageRepository)(nil)

type MessageRepository struct {
	mu       sync.Mutex
	messages map[domain.AppointmentID][]domain.Message
	ids      map[domain.MessageID]struct{}
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		messages: make(map[domain.AppointmentID][]domain.Message),
		ids:      make(map[domain.MessageID]struct{}),
	}
}

// Save ignores a message whose id is already stored.
func (r *MessageRepository) Save(ctx context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ids[msg.ID]; dup {
		return nil
	}
	r.ids[msg.ID] = struct{}{}
	r.messages[msg.AppointmentID] = append(r.messages[msg.AppointmentID], msg)
	return nil
}

func (r *MessageRepository) ListByAppointment(ctx context.Context, id domain.AppointmentID) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.Message(nil), r.messages[id]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, id domain.AppointmentID, receiver domain.UserID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	msgs := r.messages[id]
	for i := range msgs {
		if msgs[i].ReceiverID == receiver && !msgs[i].IsRead {
			msgs[i].IsRead = true
			n++
		}
	}
	return n, nil
}
