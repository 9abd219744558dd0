package streaming

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/events/bus"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

// newTestClient builds a Client with no underlying websocket connection,
// suitable for exercising Hub's registration/routing logic directly against
// its send channel.
func newTestClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	return &Client{
		ID:     "client-" + t.Name(),
		jobIDs: make(map[string]bool),
		send:   make(chan []byte, 8),
		hub:    hub,
		logger: newTestLogger(t),
	}
}

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(newTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func TestHub_BroadcastReachesUnfilteredClient(t *testing.T) {
	hub, _ := runHub(t)
	c := newTestClient(t, hub)
	hub.Register(c)
	time.Sleep(10 * time.Millisecond) // let the registration land before broadcasting

	hub.Broadcast("job-1", &bus.Event{ID: "evt-1", Type: "output"})

	select {
	case raw := <-c.send:
		var evt bus.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatalf("failed to unmarshal broadcast payload: %v", err)
		}
		if evt.ID != "evt-1" {
			t.Fatalf("expected evt-1, got %q", evt.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHub_BroadcastRespectsJobSubscription(t *testing.T) {
	hub, _ := runHub(t)
	subscribed := newTestClient(t, hub)
	other := newTestClient(t, hub)
	hub.Register(subscribed)
	hub.Register(other)
	time.Sleep(10 * time.Millisecond)
	subscribed.Subscribe("job-1")
	other.Subscribe("job-2")

	hub.Broadcast("job-1", &bus.Event{ID: "evt-1", Type: "output"})

	select {
	case <-subscribed.send:
	case <-time.After(time.Second):
		t.Fatal("subscribed client never received its job's event")
	}

	select {
	case raw := <-other.send:
		t.Fatalf("client subscribed to another job should not have received event, got %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	hub, _ := runHub(t)
	c := newTestClient(t, hub)
	hub.Register(c)
	time.Sleep(10 * time.Millisecond)

	hub.Unregister(c)
	time.Sleep(10 * time.Millisecond)

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("expected send channel to be closed after unregister")
		}
	default:
		t.Fatal("expected send channel to be closed (and therefore immediately readable) after unregister")
	}
}
