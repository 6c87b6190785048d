package domain

import "fmt"

// DeploymentStatus is the requested lifecycle stage of a project or component.
type DeploymentStatus string

// Deployment lifecycle stages. StatusCancelled only applies to components.
const (
	StatusDraft         DeploymentStatus = "DRAFT"
	StatusQueued        DeploymentStatus = "QUEUED"
	StatusDeploying     DeploymentStatus = "DEPLOYING"
	StatusDeployed      DeploymentStatus = "DEPLOYED"
	StatusStopRequested DeploymentStatus = "STOP_REQUESTED"
	StatusTerminating   DeploymentStatus = "TERMINATING"
	StatusTerminated    DeploymentStatus = "TERMINATED"
	StatusFailed        DeploymentStatus = "FAILED"
	StatusCancelled     DeploymentStatus = "CANCELLED"
)

// RunningStatus is the observed runtime health reported by external systems.
type RunningStatus string

const (
	RunningUnknown RunningStatus = "UNKNOWN"
	RunningDraft   RunningStatus = "DRAFT"
	RunningRunning RunningStatus = "RUNNING"
	RunningStopped RunningStatus = "STOPPED"
)

var projectStatuses = map[DeploymentStatus]struct{}{
	StatusDraft:         {},
	StatusQueued:        {},
	StatusDeploying:     {},
	StatusDeployed:      {},
	StatusStopRequested: {},
	StatusTerminating:   {},
	StatusTerminated:    {},
	StatusFailed:        {},
}

// ParseProjectStatus validates a raw status string for projects.
func ParseProjectStatus(raw string) (DeploymentStatus, error) {
	status := DeploymentStatus(raw)
	if _, ok := projectStatuses[status]; !ok {
		return "", fmt.Errorf("unknown project status %q: %w", raw, ErrInvalidArgument)
	}
	return status, nil
}

// CanEditGraph reports whether components and connections may change in this status.
func (s DeploymentStatus) CanEditGraph() bool {
	switch s {
	case StatusDraft, StatusTerminated, StatusDeployed, StatusFailed:
		return true
	}
	return false
}

// CanStart reports whether a deployment may be requested.
func (s DeploymentStatus) CanStart() bool {
	return s == StatusDraft || s == StatusTerminated
}

// CanStop reports whether a stop may be requested.
func (s DeploymentStatus) CanStop() bool {
	switch s {
	case StatusQueued, StatusFailed, StatusDeploying:
		return true
	}
	return false
}

// transitions lists every edge of the project state machine.
var transitions = map[DeploymentStatus][]DeploymentStatus{
	StatusDraft:         {StatusQueued},
	StatusTerminated:    {StatusQueued},
	StatusQueued:        {StatusDeploying, StatusStopRequested, StatusFailed},
	StatusDeploying:     {StatusDeployed, StatusStopRequested, StatusFailed},
	StatusDeployed:      {StatusStopRequested},
	StatusStopRequested: {StatusTerminating, StatusFailed},
	StatusTerminating:   {StatusTerminated, StatusFailed},
	StatusFailed:        {StatusStopRequested},
}

// CanTransition reports whether the state machine has an edge from s to next.
func (s DeploymentStatus) CanTransition(next DeploymentStatus) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidProjectStatus when from cannot move to next.
func CheckTransition(from, next DeploymentStatus) error {
	if !from.CanTransition(next) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidProjectStatus, from, next)
	}
	return nil
}

// IsWorkerReported reports whether the status is only reachable through a worker report.
func (s DeploymentStatus) IsWorkerReported() bool {
	switch s {
	case StatusDeploying, StatusDeployed, StatusTerminating, StatusTerminated, StatusFailed:
		return true
	}
	return false
}
