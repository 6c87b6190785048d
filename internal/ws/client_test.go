package ws

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialClient(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *Client, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- NewClient(conn, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = peer.Close() })
	select {
	case c := <-accepted:
		return c, peer
	case <-time.After(time.Second):
		t.Fatalf("server never accepted the connection")
	}
	return nil, nil
}

func TestClientDeliversQueuedMessages(t *testing.T) {
	client, peer := dialClient(t)
	go client.WritePump()
	defer client.Close()

	if err := client.Send([]byte(`{"kind":"deploy.start"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(payload) != `{"kind":"deploy.start"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestClientCloseSendsNormalClosure(t *testing.T) {
	client, peer := dialClient(t)
	go client.WritePump()

	client.Close()

	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := peer.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected a close frame before the socket went away, got %v", err)
	}
	if closeErr.Code != websocket.CloseNormalClosure {
		t.Fatalf("expected normal closure, got %d", closeErr.Code)
	}
	if err := client.Send([]byte("late")); !errors.Is(err, websocket.ErrCloseSent) {
		t.Fatalf("expected send after close to fail, got %v", err)
	}
}
