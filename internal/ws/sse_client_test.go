package ws

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type flushBuffer struct {
	bytes.Buffer
	flushes int
}

func (f *flushBuffer) Flush() { f.flushes++ }

func newTestSSEClient() (*SSEClient, *flushBuffer) {
	buf := &flushBuffer{}
	return NewSSEClient(buf, buf, slog.New(slog.NewTextHandler(io.Discard, nil))), buf
}

func dataLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func TestSSEClientHoldQueuesUntilResume(t *testing.T) {
	client, buf := newTestSSEClient()
	client.Hold()

	// id 2 was committed after subscribing but before history was read, so it
	// arrives both live and in the replay.
	for _, live := range []string{`{"id":2}`, `{"id":3}`} {
		if err := client.Send([]byte(live)); err != nil {
			t.Fatalf("send while held: %v", err)
		}
	}
	if buf.Len() != 0 {
		t.Fatalf("held client must not write, got %q", buf.String())
	}

	replayed := map[string]bool{`{"id":1}`: true, `{"id":2}`: true}
	err := client.Resume([][]byte{[]byte(`{"id":1}`), []byte(`{"id":2}`)}, func(p []byte) bool {
		return replayed[string(p)]
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := client.Send([]byte(`{"id":4}`)); err != nil {
		t.Fatalf("send after resume: %v", err)
	}

	got := strings.Join(dataLines(buf.String()), ",")
	if got != `{"id":1},{"id":2},{"id":3},{"id":4}` {
		t.Fatalf("expected each event once in order, got %s", got)
	}
	if buf.flushes != 4 {
		t.Fatalf("expected a flush per event, got %d", buf.flushes)
	}
}

func TestSSEClientHeldOverflowCloses(t *testing.T) {
	client, _ := newTestSSEClient()
	client.Hold()
	for i := 0; i < maxHeld; i++ {
		if err := client.Send([]byte("{}")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := client.Send([]byte("{}")); !errors.Is(err, ErrSlowConsumer) {
		t.Fatalf("expected slow consumer, got %v", err)
	}
	select {
	case <-client.Done():
	default:
		t.Fatalf("overflowed client must be closed")
	}
	if err := client.Resume(nil, nil); !errors.Is(err, io.EOF) {
		t.Fatalf("resume on closed client: expected EOF, got %v", err)
	}
}
