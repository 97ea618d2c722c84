package bus

import (
	"context"
	"testing"
	"time"
)

func TestEventFanout(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	ctx := context.Background()
	eventsA, unsubA := hub.Subscribe(ctx, 1)
	defer unsubA()
	eventsB, unsubB := hub.Subscribe(ctx, 1)
	defer unsubB()

	if ok := hub.Publish(Event{Type: EventURLLogged, URL: "https://a.example"}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventURLLogged {
				t.Fatalf("subscriber %s event type = %q, want %q", name, got.Type, EventURLLogged)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s expected event timestamp", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	events, unsubscribe := hub.Subscribe(context.Background(), 1)
	defer unsubscribe()

	hub.Publish(Event{Type: EventMessageReceived})

	start := time.Now()
	if ok := hub.Publish(Event{Type: EventURLLogged}); !ok {
		t.Fatal("expected second event publish to succeed")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	events, unsubscribe := hub.Subscribe(context.Background(), 1)
	unsubscribe()
	hub.Publish(Event{Type: EventURLLogged})

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestHubCloseUnblocksSubscribers(t *testing.T) {
	hub := NewHub()
	events, _ := hub.Subscribe(context.Background(), 1)
	hub.Close()

	if ok := hub.Publish(Event{Type: EventURLLogged}); ok {
		t.Fatal("expected publish to fail after close")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}
}

func TestNilHubPublishIsNoop(t *testing.T) {
	var hub *Hub
	if hub.Publish(Event{Type: EventURLLogged}) {
		t.Fatal("nil hub should report false")
	}
}
