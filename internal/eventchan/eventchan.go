// Package eventchan hands bandwidth events from the engine goroutine to the
// reconciliation loop.
//
// The queue is unbounded and ordered, with one sender and one receiver.
// Send never blocks. Either side may close its end: after the receiver is
// closed Send fails with ErrClosed, and after the sender is closed Recv
// drains what is left and then fails with ErrClosed.
package eventchan

import (
	"context"
	"errors"
	"sync"

	"github.com/nozo-moto/gnethogs/pkg/types"
)

// ErrClosed reports that the other end of the channel has gone away.
var ErrClosed = errors.New("event channel closed")

type queue struct {
	mu           sync.Mutex
	buf          []types.BandwidthEvent
	head         int
	senderDone   bool
	receiverDone bool

	// notify holds at most one pending wake-up for the receiver.
	notify chan struct{}
}

// Sender is the producer side of a channel.
type Sender struct {
	q *queue
}

// Receiver is the consumer side of a channel.
type Receiver struct {
	q *queue
}

// New creates a channel and returns both ends.
func New() (*Sender, *Receiver) {
	q := &queue{
		notify: make(chan struct{}, 1),
	}
	return &Sender{q: q}, &Receiver{q: q}
}

// Send appends ev to the queue.
func (s *Sender) Send(ev types.BandwidthEvent) error {
	q := s.q
	q.mu.Lock()
	if q.receiverDone || q.senderDone {
		q.mu.Unlock()
		return ErrClosed
	}
	q.buf = append(q.buf, ev)
	q.mu.Unlock()

	q.wake()
	return nil
}

// Close marks the end of the stream. Events already queued are still
// delivered. Close is idempotent.
func (s *Sender) Close() {
	q := s.q
	q.mu.Lock()
	q.senderDone = true
	q.mu.Unlock()
	q.wake()
}

// Recv returns the next event in send order. It blocks until an event is
// queued, the sender has closed and the queue is empty (ErrClosed), or ctx
// is done.
func (r *Receiver) Recv(ctx context.Context) (types.BandwidthEvent, error) {
	q := r.q
	for {
		q.mu.Lock()
		if q.head < len(q.buf) {
			ev := q.buf[q.head]
			q.buf[q.head] = types.BandwidthEvent{}
			q.head++
			if q.head == len(q.buf) {
				q.buf = q.buf[:0]
				q.head = 0
			}
			q.mu.Unlock()
			return ev, nil
		}
		if q.senderDone || q.receiverDone {
			q.mu.Unlock()
			return types.BandwidthEvent{}, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return types.BandwidthEvent{}, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (r *Receiver) Len() int {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf) - q.head
}

// Close drops the receiving end. Pending events are discarded and further
// sends fail with ErrClosed.
func (r *Receiver) Close() {
	q := r.q
	q.mu.Lock()
	q.receiverDone = true
	q.buf = nil
	q.head = 0
	q.mu.Unlock()
	q.wake()
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
