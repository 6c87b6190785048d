// Package dispatch publishes deployment commands to the worker fleet.
package dispatch

import "github.com/splax/pado/internal/domain"

// Operation names the command a worker must carry out.
type Operation string

const (
	OperationStart Operation = "start"
	OperationStop  Operation = "stop"
)

// Envelope is the message body consumed by workers. Deployment is present
// only on start commands.
type Envelope struct {
	Operation    Operation          `json:"operation"`
	WrappedToken string             `json:"wrappedToken"`
	DeploymentID string             `json:"deploymentId"`
	Deployment   *domain.Deployment `json:"deployment,omitempty"`
}
