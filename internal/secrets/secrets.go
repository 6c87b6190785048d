// Package secrets mints single-use wrapped credentials for the worker fleet.
package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/splax/pado/internal/domain"
)

// Broker issues response-wrapped secrets scoped to a worker role. The
// underlying secret never leaves the secret store; only the wrapper token is
// returned.
type Broker interface {
	IssueWrappedToken(ctx context.Context, role string, ttl time.Duration) (string, error)
}

// Disabled is a Broker that always fails. It keeps deploy and stop requests
// from dispatching commands when no secret store is configured.
type Disabled struct{}

// IssueWrappedToken implements Broker.
func (Disabled) IssueWrappedToken(context.Context, string, time.Duration) (string, error) {
	return "", fmt.Errorf("secret store not configured: %w", domain.ErrSecretBroker)
}
