// Package ws fans project events out to websocket and SSE subscribers.
package ws

import (
	"context"
	"sync"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by project ID. All subscription state is
// owned by the Run goroutine.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	counts    chan countRequest
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	projectID string
	payload   []byte
}

type subscription struct {
	projectID string
	client    Subscriber
}

type countRequest struct {
	projectID string
	reply     chan int
}

// NewHub creates a Hub. Call Run to start delivering messages.
func NewHub(buffer int) *Hub {
	if buffer < 0 {
		buffer = 0
	}
	return &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, buffer),
		counts:    make(chan countRequest),
		done:      make(chan struct{}),
	}
}

// Run processes subscriptions and broadcasts until ctx is cancelled, then
// closes every remaining subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.projectID]; !ok {
				h.clients[sub.projectID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.projectID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.remove(sub.projectID, sub.client)
		case msg := <-h.broadcast:
			for c := range h.clients[msg.projectID] {
				if err := c.Send(msg.payload); err != nil {
					h.remove(msg.projectID, c)
				}
			}
		case req := <-h.counts:
			req.reply <- len(h.clients[req.projectID])
		}
	}
}

func (h *Hub) remove(projectID string, client Subscriber) {
	clients, ok := h.clients[projectID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	client.Close()
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, projectID)
	}
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })
	for projectID, clients := range h.clients {
		for c := range clients {
			c.Close()
		}
		delete(h.clients, projectID)
	}
}

// Register adds a client to a project stream. It reports false once the hub
// has stopped.
func (h *Hub) Register(projectID string, client Subscriber) bool {
	select {
	case h.register <- subscription{projectID: projectID, client: client}:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	select {
	case h.unreg <- subscription{projectID: projectID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all project clients. It is a no-op after the
// hub has stopped.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	select {
	case h.broadcast <- message{projectID: projectID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers returns the number of clients attached to a project.
func (h *Hub) Subscribers(projectID string) int {
	reply := make(chan int, 1)
	select {
	case h.counts <- countRequest{projectID: projectID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}
