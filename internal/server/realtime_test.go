package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "alice")
	defer cleanup()

	dispatcher.PublishChange(worklog.ChangeEvent{
		Username: "alice",
		Dates:    []string{"2024-03-01", "2024-03-02"},
		At:       time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventDaysChanged {
			t.Fatalf("expected event type %s, got %s", RealtimeEventDaysChanged, received.EventType)
		}
		if len(received.Dates) != 2 {
			t.Fatalf("expected 2 dates, got %d", len(received.Dates))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherCtx, otherCancel := context.WithCancel(context.Background())
	defer otherCancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "alice")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(otherCtx, "bob")
	defer otherCleanup()

	dispatcher.Publish(RealtimeMessage{
		Username:  "bob",
		EventType: RealtimeEventDaysChanged,
		Dates:     []string{"2024-03-03"},
		Timestamp: time.Now().UTC(),
	})

	select {
	case <-userStream:
		t.Fatal("did not expect realtime message for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.Username != "bob" {
			t.Fatalf("expected bob, received %s", msg.Username)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed user")
	}
}

func TestRealtimeDispatcherUnsubscribesOnCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx, "alice")
	if dispatcher.subscriberCount("alice") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.subscriberCount("alice") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRealtimeDispatcherIgnoresEventsWithoutChanges(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "alice")
	defer cleanup()

	dispatcher.Publish(RealtimeMessage{Username: "alice"})

	select {
	case <-stream:
		t.Fatal("did not expect a message without event type")
	case <-time.After(100 * time.Millisecond):
	}
}
