package negotiation

import (
	"errors"
	"sync"

	"github.com/tbcare/telecall/internal/core/domain"
)

// CandidateQueue holds remote ICE candidates that arrived before a remote
// description could accept them. It is strictly FIFO.
type CandidateQueue struct {
	mu    sync.Mutex
	items []domain.ICECandidate
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{}
}

func (q *CandidateQueue) Enqueue(c domain.ICECandidate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

func (q *CandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain empties the queue and applies every candidate in arrival order.
// Failures wrapping domain.ErrCandidateApply are skipped; any other error
// stops the drain and the remaining candidates are dropped with the queue.
// The first candidate failure is returned when no fatal error occurred.
func (q *CandidateQueue) Drain(apply func(domain.ICECandidate) error) (int, error) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	applied := 0
	var firstSkipped error
	for _, c := range items {
		err := apply(c)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, domain.ErrCandidateApply):
			if firstSkipped == nil {
				firstSkipped = err
			}
		default:
			return applied, err
		}
	}
	return applied, firstSkipped
}

// Clear drops everything buffered.
func (q *CandidateQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
