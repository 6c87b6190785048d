package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// maxHeld bounds the events queued while a client is held.
const maxHeld = 256

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
	done    chan struct{}
	last    time.Time
	held    bool
	pending [][]byte
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger, done: make(chan struct{}), last: time.Now().UTC()}
}

// Send emits a project event to the SSE stream. While the client is held the
// event is queued instead.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if c.held {
		if len(c.pending) >= maxHeld {
			c.closeLocked()
			c.log.Warn("sse client dropped while held", "error", ErrSlowConsumer)
			return ErrSlowConsumer
		}
		c.pending = append(c.pending, payload)
		return nil
	}
	return c.writeLocked(payload)
}

// Hold queues live events until Resume. It lets a caller subscribe before
// reading history without losing events committed in between.
func (c *SSEClient) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = true
}

// Resume writes replay, then every queued event that skip does not match,
// and switches the client back to direct delivery.
func (c *SSEClient) Resume(replay [][]byte, skip func(payload []byte) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.held = false
	c.pending = nil
	if c.closed {
		return io.EOF
	}
	for _, payload := range replay {
		if err := c.writeLocked(payload); err != nil {
			return err
		}
	}
	for _, payload := range pending {
		if skip != nil && skip(payload) {
			continue
		}
		if err := c.writeLocked(payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *SSEClient) writeLocked(payload []byte) error {
	if _, err := fmt.Fprintf(c.writer, "event: project\ndata: %s\n\n", payload); err != nil {
		c.closeLocked()
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.closeLocked()
		c.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Done is closed once the stream is closed.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
