package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned when sending through a released producer handle.
	ErrClosed = errors.New("bus: producer released")
	// ErrReceiverClosed is returned when the consuming side has shut down.
	ErrReceiverClosed = errors.New("bus: receiver closed")
)

// Queue is an unbounded multi-producer, single-consumer FIFO.
//
// Sends never block. The queue reports closure to its consumer once every
// Producer handle has been released and all queued items were received.
type Queue[T any] struct {
	mu             sync.Mutex
	items          []T
	producers      int
	receiverClosed bool

	// ready holds at most one pending wake-up for the consumer.
	ready chan struct{}
}

// Producer is one sending handle of a Queue. Clone hands out more handles;
// each must be released exactly once.
type Producer[T any] struct {
	q        *Queue[T]
	released atomic.Bool
}

// NewQueue returns an empty queue together with its first producer handle.
func NewQueue[T any]() (*Queue[T], *Producer[T]) {
	q := &Queue[T]{
		producers: 1,
		ready:     make(chan struct{}, 1),
	}
	return q, &Producer[T]{q: q}
}

// Clone registers a new producer handle on the same queue.
func (p *Producer[T]) Clone() (*Producer[T], error) {
	p.q.mu.Lock()
	defer p.q.mu.Unlock()

	if p.released.Load() {
		return nil, ErrClosed
	}
	if p.q.receiverClosed {
		return nil, ErrReceiverClosed
	}

	p.q.producers++
	return &Producer[T]{q: p.q}, nil
}

// Send enqueues v without blocking.
func (p *Producer[T]) Send(v T) error {
	if p.released.Load() {
		return ErrClosed
	}

	p.q.mu.Lock()
	if p.q.receiverClosed {
		p.q.mu.Unlock()
		return ErrReceiverClosed
	}
	p.q.items = append(p.q.items, v)
	p.q.mu.Unlock()

	p.q.wake()
	return nil
}

// Release drops this handle. Releasing twice is a no-op.
func (p *Producer[T]) Release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}

	p.q.mu.Lock()
	p.q.producers--
	last := p.q.producers == 0
	p.q.mu.Unlock()

	if last {
		p.q.wake()
	}
}

// Receive returns the oldest queued item. It reports false once every
// producer is released and the queue is drained, after Close, or when ctx
// is done.
func (q *Queue[T]) Receive(ctx context.Context) (T, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	var zero T
	for {
		q.mu.Lock()
		if q.receiverClosed {
			q.mu.Unlock()
			return zero, false
		}
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return v, true
		}
		if q.producers == 0 {
			q.mu.Unlock()
			return zero, false
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, false
		case <-q.ready:
		}
	}
}

// Close shuts the receiving side down. Pending items are discarded and
// further sends fail with ErrReceiverClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.receiverClosed = true
	q.items = nil
	q.mu.Unlock()

	q.wake()
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Producers reports the number of unreleased producer handles.
func (q *Queue[T]) Producers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.producers
}

func (q *Queue[T]) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
