package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/splax/pado/internal/domain"
)

type captured struct {
	key  string
	body []byte
}

type capturePublisher struct {
	err  error
	sent []captured
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, captured{key: routingKey, body: body})
	return nil
}

func newTestDispatcher(pub Publisher) *Dispatcher {
	return New(pub, DefaultRoutes(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSendStartCarriesSnapshot(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(pub)

	snapshot := &domain.Deployment{
		DeploymentID: "dep-1",
		ProjectID:    "p-1",
		Components: []domain.ComponentInfo{
			{ID: "a", Name: "s3-1", Type: domain.ComponentResource, Subtype: "S3", Children: []domain.ComponentInfo{}, Connections: []domain.ConnectionInfo{}, SettingJSON: "{}"},
		},
	}
	err := d.SendStart(context.Background(), Envelope{WrappedToken: "hvs.x", DeploymentID: "dep-1", Deployment: snapshot})
	if err != nil {
		t.Fatalf("send start: %v", err)
	}
	if len(pub.sent) != 1 || pub.sent[0].key != "deployment.start" {
		t.Fatalf("unexpected publishes %+v", pub.sent)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(pub.sent[0].body, &decoded); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if string(decoded["operation"]) != `"start"` {
		t.Fatalf("expected start operation, got %s", decoded["operation"])
	}
	if string(decoded["wrappedToken"]) != `"hvs.x"` {
		t.Fatalf("unexpected token %s", decoded["wrappedToken"])
	}
	if _, ok := decoded["deployment"]; !ok {
		t.Fatalf("expected deployment in start envelope")
	}
}

func TestSendStopOmitsSnapshot(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(pub)

	err := d.SendStop(context.Background(), Envelope{
		Operation:    OperationStart,
		WrappedToken: "hvs.y",
		DeploymentID: "dep-1",
		Deployment:   &domain.Deployment{DeploymentID: "dep-1"},
	})
	if err != nil {
		t.Fatalf("send stop: %v", err)
	}
	if pub.sent[0].key != "deployment.stop" {
		t.Fatalf("expected stop routing key, got %s", pub.sent[0].key)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(pub.sent[0].body, &decoded); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if _, ok := decoded["deployment"]; ok {
		t.Fatalf("stop envelope must not carry a deployment")
	}
	if string(decoded["operation"]) != `"stop"` {
		t.Fatalf("expected stop operation, got %s", decoded["operation"])
	}
}

func TestSendStartRequiresSnapshot(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(pub)

	err := d.SendStart(context.Background(), Envelope{WrappedToken: "t", DeploymentID: "dep-1"})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestEncodeFailureIsSerializationError(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(pub)
	d.encode = func(any) ([]byte, error) { return nil, errors.New("unsupported value") }

	err := d.SendStop(context.Background(), Envelope{WrappedToken: "t", DeploymentID: "dep-1"})
	if !errors.Is(err, domain.ErrSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("nothing should be published after an encode failure")
	}
}

func TestPublishFailureIsDispatchError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("connection reset")}
	d := newTestDispatcher(pub)

	err := d.SendStop(context.Background(), Envelope{WrappedToken: "t", DeploymentID: "dep-1"})
	if !errors.Is(err, domain.ErrDispatch) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
}

type xaddRecorder struct {
	redis.Cmdable
	args []*redis.XAddArgs
}

func (r *xaddRecorder) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	r.args = append(r.args, a)
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("1-0")
	return cmd
}

func TestRedisStreamPublisherSharesOneStream(t *testing.T) {
	rec := &xaddRecorder{}
	pub, err := NewRedisStreamPublisher(rec, "deployment.queue", 1000)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	for _, key := range []string{"deployment.start", "deployment.stop"} {
		if err := pub.Publish(context.Background(), key, []byte(`{}`)); err != nil {
			t.Fatalf("publish %s: %v", key, err)
		}
	}
	if len(rec.args) != 2 {
		t.Fatalf("expected two XADDs, got %d", len(rec.args))
	}
	for i, key := range []string{"deployment.start", "deployment.stop"} {
		got := rec.args[i]
		if got.Stream != "deployment.queue" || got.MaxLen != 1000 || !got.Approx {
			t.Fatalf("unexpected xadd args %+v", got)
		}
		values, ok := got.Values.(map[string]any)
		if !ok || values["routing_key"] != key {
			t.Fatalf("expected routing_key %s, got %v", key, got.Values)
		}
	}
}

func TestNewRedisStreamPublisherRequiresStream(t *testing.T) {
	if _, err := NewRedisStreamPublisher(&xaddRecorder{}, "", 0); err == nil {
		t.Fatal("expected error for empty stream name")
	}
}
