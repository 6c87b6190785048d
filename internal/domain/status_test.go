package domain

import (
	"errors"
	"testing"
)

var allProjectStatuses = []DeploymentStatus{
	StatusDraft,
	StatusQueued,
	StatusDeploying,
	StatusDeployed,
	StatusStopRequested,
	StatusTerminating,
	StatusTerminated,
	StatusFailed,
}

func TestStatusGates(t *testing.T) {
	editable := map[DeploymentStatus]bool{StatusDraft: true, StatusTerminated: true, StatusDeployed: true, StatusFailed: true}
	startable := map[DeploymentStatus]bool{StatusDraft: true, StatusTerminated: true}
	stoppable := map[DeploymentStatus]bool{StatusQueued: true, StatusFailed: true, StatusDeploying: true}

	for _, status := range allProjectStatuses {
		if got := status.CanEditGraph(); got != editable[status] {
			t.Fatalf("CanEditGraph(%s) = %v", status, got)
		}
		if got := status.CanStart(); got != startable[status] {
			t.Fatalf("CanStart(%s) = %v", status, got)
		}
		if got := status.CanStop(); got != stoppable[status] {
			t.Fatalf("CanStop(%s) = %v", status, got)
		}
	}
}

func TestStartAndStopGatesAgreeWithTransitions(t *testing.T) {
	for _, status := range allProjectStatuses {
		if status.CanStart() && !status.CanTransition(StatusQueued) {
			t.Fatalf("%s can start but has no edge to QUEUED", status)
		}
		if status.CanStop() && !status.CanTransition(StatusStopRequested) {
			t.Fatalf("%s can stop but has no edge to STOP_REQUESTED", status)
		}
	}
}

func TestFailedReachableFromInFlightStates(t *testing.T) {
	for _, status := range []DeploymentStatus{StatusQueued, StatusDeploying, StatusStopRequested, StatusTerminating} {
		if !status.CanTransition(StatusFailed) {
			t.Fatalf("expected %s -> FAILED", status)
		}
	}
	if StatusDraft.CanTransition(StatusFailed) {
		t.Fatal("DRAFT must not move to FAILED")
	}
}

func TestCheckTransitionWrapsInvalidStatus(t *testing.T) {
	err := CheckTransition(StatusQueued, StatusQueued)
	if !errors.Is(err, ErrInvalidProjectStatus) {
		t.Fatalf("expected ErrInvalidProjectStatus, got %v", err)
	}
	if err := CheckTransition(StatusDeploying, StatusDeployed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseProjectStatusRejectsComponentOnlyStatus(t *testing.T) {
	if _, err := ParseProjectStatus("CANCELLED"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	status, err := ParseProjectStatus("DEPLOYED")
	if err != nil || status != StatusDeployed {
		t.Fatalf("unexpected parse result %q %v", status, err)
	}
}

func TestNotFoundVariantsMatchSentinel(t *testing.T) {
	if !errors.Is(ErrDeploymentNotFound, ErrNotFound) {
		t.Fatal("deployment not found should match ErrNotFound")
	}
	if !errors.Is(ErrComponentSettingNotFound, ErrNotFound) {
		t.Fatal("setting not found should match ErrNotFound")
	}
	if errors.Is(ErrDeploymentNotFound, ErrComponentSettingNotFound) {
		t.Fatal("not found variants must stay distinct")
	}
	if !errors.Is(ErrDispatch, ErrInternal) {
		t.Fatal("dispatch failures are internal errors")
	}
}
