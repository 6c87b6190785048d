// Package deploy drives the deployment lifecycle of a project: it gates
// start and stop requests on the project status, snapshots the graph, mints
// a wrapped worker credential and dispatches the command, all inside the
// transaction that flips the statuses.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/splax/pado/internal/dispatch"
	"github.com/splax/pado/internal/domain"
	"github.com/splax/pado/internal/repository"
	"github.com/splax/pado/internal/secrets"
	"github.com/splax/pado/internal/service/validation"
	"github.com/splax/pado/internal/telemetry"
)

// Commands sends worker commands. *dispatch.Dispatcher implements it.
type Commands interface {
	SendStart(ctx context.Context, env dispatch.Envelope) error
	SendStop(ctx context.Context, env dispatch.Envelope) error
}

// EventSink receives lifecycle events after a change commits.
type EventSink interface {
	Append(ctx context.Context, event domain.ProjectEvent) error
}

// Config tunes token minting and history reads.
type Config struct {
	WorkerRole   string
	WrapTTL      time.Duration
	HistoryLimit int
}

// Result acknowledges an accepted start or stop request.
type Result struct {
	RequestTime  time.Time `json:"requestTime"`
	DeploymentID string    `json:"deploymentId"`
	Message      string    `json:"message"`
}

// Report is a status update sent by a worker for a deployment it consumed.
type Report struct {
	DeploymentID string                  `json:"deploymentId" validate:"required,uuid"`
	ProjectID    string                  `json:"projectId" validate:"required,uuid"`
	Status       domain.DeploymentStatus `json:"status" validate:"required"`
	Message      string                  `json:"message" validate:"max=2000"`
}

// Service orchestrates deployments.
type Service struct {
	store    repository.Store
	broker   secrets.Broker
	commands Commands
	events   EventSink
	tracer   trace.Tracer
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	newID    func() string
}

// New returns a deployment service. events and tracer may be nil.
func New(store repository.Store, broker secrets.Broker, commands Commands, events EventSink, tracer trace.Tracer, logger *slog.Logger, cfg Config) Service {
	if cfg.WorkerRole == "" {
		cfg.WorkerRole = "go-role"
	}
	if cfg.WrapTTL <= 0 {
		cfg.WrapTTL = 60 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if tracer == nil {
		tracer = telemetry.Noop()
	}
	if broker == nil {
		broker = secrets.Disabled{}
	}
	initMetrics()
	return Service{
		store:    store,
		broker:   broker,
		commands: commands,
		events:   events,
		tracer:   tracer,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Start queues a deployment of the project's current graph. The snapshot,
// the QUEUED transition and the published start command succeed or fail
// together.
func (s Service) Start(ctx context.Context, caller domain.Caller, projectID string) (result *Result, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "deploy.start", trace.WithAttributes(attribute.String("project.id", projectID)))
	defer func() {
		err = s.classify("start", projectID, err)
		recordRequest("start", started, err)
		telemetry.End(span, err)
	}()

	if err := validation.Caller(caller); err != nil {
		return nil, err
	}
	projectID, err = validation.ID("project", projectID)
	if err != nil {
		return nil, err
	}

	requestTime := s.now().UTC()
	var (
		deployment *domain.Deployment
		published  bool
	)
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		project, err := tx.LockProject(ctx, projectID, caller.UserID)
		if err != nil {
			return err
		}
		if !project.DeploymentStatus.CanStart() {
			return fmt.Errorf("start project in %s: %w", project.DeploymentStatus, domain.ErrInvalidProjectStatus)
		}
		components, err := tx.LockComponents(ctx, projectID)
		if err != nil {
			return err
		}
		connections, err := tx.ListConnections(ctx, projectID)
		if err != nil {
			return err
		}
		settings, err := tx.LatestSettings(ctx, projectID)
		if err != nil {
			return err
		}

		deployment, err = BuildSnapshot(domain.NewGraph(components, connections), settings, SnapshotMeta{
			ID:           s.newID(),
			DeploymentID: s.newID(),
			ProjectID:    projectID,
			CreatedBy:    caller.UserID,
			CreatedAt:    requestTime,
		})
		if err != nil {
			return err
		}
		if err := tx.CreateDeployment(ctx, deployment); err != nil {
			return err
		}
		if err := tx.UpdateProjectStatus(ctx, projectID, domain.StatusQueued, domain.RunningUnknown, requestTime); err != nil {
			return err
		}
		if _, err := tx.UpdateComponentStatuses(ctx, projectID, repository.ComponentStatusUpdate{
			Status:          domain.StatusQueued,
			RunningStatus:   domain.RunningUnknown,
			DeployStartedAt: &requestTime,
		}); err != nil {
			return err
		}

		token, err := s.broker.IssueWrappedToken(ctx, s.cfg.WorkerRole, s.cfg.WrapTTL)
		if err != nil {
			return err
		}
		if err := s.commands.SendStart(ctx, dispatch.Envelope{
			WrappedToken: token,
			DeploymentID: deployment.DeploymentID,
			Deployment:   deployment,
		}); err != nil {
			return err
		}
		published = true
		return nil
	})
	if err != nil {
		if published {
			s.logger.Error("start command published but status change was not committed",
				"project_id", projectID, "deployment_id", deployment.DeploymentID, "error", err)
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("deployment.id", deployment.DeploymentID))
	s.logger.Info("deployment queued", "project_id", projectID, "deployment_id", deployment.DeploymentID, "components", len(deployment.Components))
	s.emit(ctx, domain.ProjectEvent{
		ProjectID:    projectID,
		DeploymentID: deployment.DeploymentID,
		Kind:         "deploy.requested",
		Status:       domain.StatusQueued,
		Message:      "deployment queued",
		Actor:        caller.UserID,
		CreatedAt:    requestTime,
	})
	return &Result{
		RequestTime:  requestTime,
		DeploymentID: deployment.DeploymentID,
		Message:      "Deployment started for project ID: " + projectID,
	}, nil
}

// Stop requests teardown of the most recent deployment.
func (s Service) Stop(ctx context.Context, caller domain.Caller, projectID string) (result *Result, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "deploy.stop", trace.WithAttributes(attribute.String("project.id", projectID)))
	defer func() {
		err = s.classify("stop", projectID, err)
		recordRequest("stop", started, err)
		telemetry.End(span, err)
	}()

	if err := validation.Caller(caller); err != nil {
		return nil, err
	}
	projectID, err = validation.ID("project", projectID)
	if err != nil {
		return nil, err
	}

	requestTime := s.now().UTC()
	var (
		deploymentID string
		published    bool
	)
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		project, err := tx.LockProject(ctx, projectID, caller.UserID)
		if err != nil {
			return err
		}
		if !project.DeploymentStatus.CanStop() {
			return fmt.Errorf("stop project in %s: %w", project.DeploymentStatus, domain.ErrInvalidProjectStatus)
		}
		latest, err := tx.LatestDeployment(ctx, projectID)
		if err != nil {
			return err
		}
		deploymentID = latest.DeploymentID
		if _, err := tx.LockComponents(ctx, projectID); err != nil {
			return err
		}
		if err := tx.UpdateProjectStatus(ctx, projectID, domain.StatusStopRequested, domain.RunningUnknown, requestTime); err != nil {
			return err
		}
		if _, err := tx.UpdateComponentStatuses(ctx, projectID, repository.ComponentStatusUpdate{
			Status:        domain.StatusStopRequested,
			RunningStatus: domain.RunningUnknown,
		}); err != nil {
			return err
		}

		token, err := s.broker.IssueWrappedToken(ctx, s.cfg.WorkerRole, s.cfg.WrapTTL)
		if err != nil {
			return err
		}
		if err := s.commands.SendStop(ctx, dispatch.Envelope{WrappedToken: token, DeploymentID: deploymentID}); err != nil {
			return err
		}
		published = true
		return nil
	})
	if err != nil {
		if published {
			s.logger.Error("stop command published but status change was not committed",
				"project_id", projectID, "deployment_id", deploymentID, "error", err)
		}
		return nil, err
	}

	s.logger.Info("stop requested", "project_id", projectID, "deployment_id", deploymentID)
	s.emit(ctx, domain.ProjectEvent{
		ProjectID:    projectID,
		DeploymentID: deploymentID,
		Kind:         "stop.requested",
		Status:       domain.StatusStopRequested,
		Message:      "stop requested",
		Actor:        caller.UserID,
		CreatedAt:    requestTime,
	})
	return &Result{
		RequestTime:  requestTime,
		DeploymentID: deploymentID,
		Message:      "Deployment stopped for project ID: " + projectID,
	}, nil
}

// Advance applies a worker's status report. Only worker-driven transitions
// out of the current project status are accepted, and only for the
// project's latest deployment.
func (s Service) Advance(ctx context.Context, report Report) (err error) {
	ctx, span := s.tracer.Start(ctx, "deploy.advance", trace.WithAttributes(
		attribute.String("project.id", report.ProjectID),
		attribute.String("deployment.id", report.DeploymentID),
		attribute.String("status", string(report.Status)),
	))
	defer func() {
		err = s.classify("advance", report.ProjectID, err)
		recordWorkerReport(report.Status, err)
		telemetry.End(span, err)
	}()

	report.Status = domain.DeploymentStatus(strings.ToUpper(strings.TrimSpace(string(report.Status))))
	if err := validation.Struct(report); err != nil {
		return err
	}
	if _, err := domain.ParseProjectStatus(string(report.Status)); err != nil {
		return err
	}
	if !report.Status.IsWorkerReported() {
		return fmt.Errorf("workers cannot report %s: %w", report.Status, domain.ErrInvalidArgument)
	}

	at := s.now().UTC()
	var from domain.DeploymentStatus
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		project, err := tx.LockProjectByID(ctx, report.ProjectID)
		if err != nil {
			return err
		}
		reported, err := tx.GetDeployment(ctx, report.DeploymentID)
		if err != nil {
			return err
		}
		if reported.ProjectID != project.ID {
			return fmt.Errorf("deployment %s in project %s: %w", report.DeploymentID, project.ID, domain.ErrDeploymentNotFound)
		}
		latest, err := tx.LatestDeployment(ctx, project.ID)
		if err != nil {
			return err
		}
		if latest.DeploymentID != report.DeploymentID {
			return fmt.Errorf("deployment %s is not the latest for project %s: %w", report.DeploymentID, project.ID, domain.ErrInvalidProjectStatus)
		}
		from = project.DeploymentStatus
		if err := domain.CheckTransition(from, report.Status); err != nil {
			return err
		}
		if _, err := tx.LockComponents(ctx, project.ID); err != nil {
			return err
		}
		if err := tx.UpdateProjectStatus(ctx, project.ID, report.Status, domain.RunningUnknown, at); err != nil {
			return err
		}
		return s.mirrorComponents(ctx, tx, project.ID, report.Status, at)
	})
	if err != nil {
		return err
	}

	s.logger.Info("worker report applied", "project_id", report.ProjectID, "deployment_id", report.DeploymentID, "from", from, "to", report.Status)
	message := report.Message
	if message == "" {
		message = fmt.Sprintf("%s -> %s", from, report.Status)
	}
	s.emit(ctx, domain.ProjectEvent{
		ProjectID:    report.ProjectID,
		DeploymentID: report.DeploymentID,
		Kind:         "worker.reported",
		Status:       report.Status,
		Message:      message,
		Actor:        "worker",
		CreatedAt:    at,
	})
	return nil
}

// mirrorComponents carries a project transition onto its components.
func (s Service) mirrorComponents(ctx context.Context, tx repository.Tx, projectID string, to domain.DeploymentStatus, at time.Time) error {
	update := repository.ComponentStatusUpdate{Status: to, RunningStatus: domain.RunningUnknown}
	switch to {
	case domain.StatusDeployed, domain.StatusTerminated, domain.StatusFailed:
		update.DeployEndedAt = &at
	}
	_, err := tx.UpdateComponentStatuses(ctx, projectID, update)
	return err
}

// Latest returns the most recent snapshot of the caller's project.
func (s Service) Latest(ctx context.Context, caller domain.Caller, projectID string) (*domain.Deployment, error) {
	var deployment *domain.Deployment
	err := s.read(ctx, caller, projectID, func(tx repository.Tx, projectID string) error {
		var err error
		deployment, err = tx.LatestDeployment(ctx, projectID)
		return err
	})
	return deployment, err
}

// List returns recent snapshots of the caller's project, newest first.
func (s Service) List(ctx context.Context, caller domain.Caller, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	var deployments []domain.Deployment
	err := s.read(ctx, caller, projectID, func(tx repository.Tx, projectID string) error {
		var err error
		deployments, err = tx.ListDeployments(ctx, projectID, limit)
		return err
	})
	return deployments, err
}

func (s Service) read(ctx context.Context, caller domain.Caller, projectID string, fn func(tx repository.Tx, projectID string) error) error {
	if err := validation.Caller(caller); err != nil {
		return err
	}
	projectID, err := validation.ID("project", projectID)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetProject(ctx, projectID, caller.UserID); err != nil {
			return err
		}
		return fn(tx, projectID)
	})
}

func (s Service) emit(ctx context.Context, event domain.ProjectEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Warn("project event dropped", "project_id", event.ProjectID, "kind", event.Kind, "error", err)
	}
}

// classify passes known failures through and turns anything else into a
// logged ErrInternal.
func (s Service) classify(operation, projectID string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domain.ErrNotFound,
		domain.ErrInvalidProjectStatus,
		domain.ErrInvalidArgument,
		domain.ErrAlreadyExists,
		domain.ErrSecretBroker,
		domain.ErrSerialization,
		domain.ErrInternal,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	s.logger.Error("deployment request failed", "operation", operation, "project_id", projectID, "error", err)
	return fmt.Errorf("%s failed: %w", operation, domain.ErrInternal)
}
