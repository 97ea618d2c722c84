package bus

import (
	"context"
	"sync"
	"time"
)

const defaultEventBuffer = 100

type EventType string

const (
	EventWorkspaceUp     EventType = "workspace_up"
	EventWorkspaceDown   EventType = "workspace_down"
	EventMessageReceived EventType = "message_received"
	EventURLLogged       EventType = "url_logged"
	EventInsertFailed    EventType = "insert_failed"
)

// Event describes one piece of pipeline activity for observers such as the
// status server. Events are advisory and may be dropped.
type Event struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	Workspace string    `json:"workspace,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Hub fans activity events out to subscribers without ever blocking the
// publisher.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uint64]chan Event),
		done:        make(chan struct{}),
	}
}

// Publish delivers event to every subscriber with buffer room. A nil hub
// accepts and drops everything.
func (h *Hub) Publish(event Event) bool {
	if h == nil {
		return false
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-h.done:
		return false
	default:
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

// Subscribe registers a buffered subscriber. The channel is closed when ctx
// ends, the returned func is called, or the hub closes.
func (h *Hub) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	ch := make(chan Event, buffer)

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			if eventCh, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(eventCh)
			}
			h.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-h.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}

// Close closes every subscriber channel and rejects further publishing.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for id, ch := range h.subscribers {
			close(ch)
			delete(h.subscribers, id)
		}
		h.mu.Unlock()
	})
}
