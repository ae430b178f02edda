// ABOUTME: promptQueue adapts discrete Submit calls into one ordered turn stream
// ABOUTME: Unbounded FIFO with non-blocking submit and an idempotent close sentinel

package session

import (
	"context"
	"sync"

	"github.com/Atium-Research/at-backend/internal/agent"
)

// promptQueue is the input adapter between arbitrarily-timed user
// messages and the single ordered prompt stream an agent call consumes.
// Submit never blocks; the consumer side suspends while the queue is
// empty. Close enqueues the end-of-input sentinel once.
type promptQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool

	// wake is buffered so a notification between the consumer's empty
	// check and its wait is never lost.
	wake chan struct{}
}

func newPromptQueue() *promptQueue {
	return &promptQueue{
		wake: make(chan struct{}, 1),
	}
}

// Submit appends text to the queue. Texts submitted after Close are
// silently ignored.
func (q *promptQueue) Submit(text string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, text)
	q.mu.Unlock()
	q.notify()
}

// Close marks end-of-input. Idempotent; items submitted before the
// close are still delivered to the consumer.
func (q *promptQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *promptQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// feed returns the ordered turn stream. It must be consumed by exactly
// one reader; the channel closes after the close sentinel (with the
// queue drained) or when ctx is cancelled.
func (q *promptQueue) feed(ctx context.Context) <-chan agent.UserTurn {
	out := make(chan agent.UserTurn)
	go func() {
		defer close(out)
		for {
			q.mu.Lock()
			if len(q.items) > 0 {
				item := q.items[0]
				q.items = q.items[1:]
				q.mu.Unlock()
				select {
				case out <- agent.UserTurn{Content: item}:
				case <-ctx.Done():
					return
				}
				continue
			}
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
