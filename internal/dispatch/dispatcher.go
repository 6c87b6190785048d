package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/splax/pado/internal/domain"
)

// Publisher delivers an encoded command under a routing key. Implementations
// return only once the broker has accepted the message.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Routes maps operations to routing keys.
type Routes struct {
	Start string
	Stop  string
}

// DefaultRoutes returns the routing keys workers bind to out of the box.
func DefaultRoutes() Routes {
	return Routes{Start: "deployment.start", Stop: "deployment.stop"}
}

// Dispatcher encodes envelopes and hands them to a Publisher.
type Dispatcher struct {
	pub    Publisher
	routes Routes
	log    *slog.Logger
	encode func(any) ([]byte, error)
}

// New constructs a Dispatcher.
func New(pub Publisher, routes Routes, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{pub: pub, routes: routes, log: log, encode: json.Marshal}
}

// SendStart publishes a start command carrying the deployment snapshot.
func (d *Dispatcher) SendStart(ctx context.Context, env Envelope) error {
	if env.Deployment == nil {
		return fmt.Errorf("start command without snapshot: %w", domain.ErrInvalidArgument)
	}
	env.Operation = OperationStart
	return d.send(ctx, d.routes.Start, env)
}

// SendStop publishes a stop command. Any snapshot on env is dropped.
func (d *Dispatcher) SendStop(ctx context.Context, env Envelope) error {
	env.Operation = OperationStop
	env.Deployment = nil
	return d.send(ctx, d.routes.Stop, env)
}

func (d *Dispatcher) send(ctx context.Context, routingKey string, env Envelope) error {
	if env.DeploymentID == "" {
		return fmt.Errorf("command without deployment id: %w", domain.ErrInvalidArgument)
	}
	body, err := d.encode(env)
	if err != nil {
		return fmt.Errorf("encode %s command: %v: %w", env.Operation, err, domain.ErrSerialization)
	}
	if err := d.pub.Publish(ctx, routingKey, body); err != nil {
		return fmt.Errorf("publish %s command: %w: %w", env.Operation, err, domain.ErrDispatch)
	}
	d.log.Info("command published", "operation", env.Operation, "deployment_id", env.DeploymentID, "routing_key", routingKey)
	return nil
}
