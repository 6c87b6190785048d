package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu      sync.Mutex
	payload [][]byte
	fail    bool
	closed  bool
}

func (r *recordingSubscriber) Send(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken pipe")
	}
	r.payload = append(r.payload, p)
	return nil
}

func (r *recordingSubscriber) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingSubscriber) received() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payload)
}

func (r *recordingSubscriber) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func TestHubBroadcastsToProjectSubscribers(t *testing.T) {
	hub, _ := startHub(t)
	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	hub.Register("p-1", a)
	hub.Register("p-2", b)

	hub.Broadcast("p-1", []byte(`{"kind":"deploy.start"}`))

	// the count request is served after the broadcast, so delivery has happened
	if n := hub.Subscribers("p-1"); n != 1 {
		t.Fatalf("expected one subscriber, got %d", n)
	}
	if a.received() != 1 {
		t.Fatalf("expected p-1 subscriber to receive one message, got %d", a.received())
	}
	if b.received() != 0 {
		t.Fatalf("p-2 subscriber must not receive p-1 messages")
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub, _ := startHub(t)
	sub := &recordingSubscriber{fail: true}
	hub.Register("p-1", sub)

	hub.Broadcast("p-1", []byte("x"))

	if n := hub.Subscribers("p-1"); n != 0 {
		t.Fatalf("expected failing subscriber to be removed, got %d", n)
	}
	if !sub.isClosed() {
		t.Fatalf("expected failing subscriber to be closed")
	}
}

func TestHubStopsCleanly(t *testing.T) {
	hub, cancel := startHub(t)
	sub := &recordingSubscriber{}
	hub.Register("p-1", sub)
	cancel()

	deadline := time.After(time.Second)
	for !sub.isClosed() {
		select {
		case <-deadline:
			t.Fatalf("subscriber not closed after hub stop")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if hub.Register("p-1", &recordingSubscriber{}) {
		t.Fatalf("register must fail after stop")
	}
	hub.Broadcast("p-1", []byte("ignored"))
}
