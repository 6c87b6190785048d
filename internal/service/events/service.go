package events

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/splax/pado/internal/domain"
	"github.com/splax/pado/internal/repository"
	"github.com/splax/pado/internal/ws"
)

// Event kinds.
const (
	KindProjectCreated   = "project.created"
	KindDeployRequested  = "deploy.requested"
	KindStopRequested    = "stop.requested"
	KindWorkerReported   = "worker.reported"
	KindComponentChanged = "graph.changed"
)

// Service handles project event persistence and streaming.
type Service struct {
	repo   repository.EventRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs an event service.
func New(repo repository.EventRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger}
}

// Append stores and broadcasts an event. A storage failure is logged and
// returned; the event is not broadcast in that case.
func (s Service) Append(ctx context.Context, event domain.ProjectEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	if err := s.repo.AppendEvent(ctx, &event); err != nil {
		s.logger.Error("persist project event", "project_id", event.ProjectID, "kind", event.Kind, "error", err)
		return err
	}
	s.broadcast(event)
	return nil
}

// List returns events for a project, newest first.
func (s Service) List(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEvents(ctx, projectID, limit, offset)
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(event domain.ProjectEvent) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEvent(event)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "error", err)
		return
	}
	s.hub.Broadcast(event.ProjectID, data)
}

// MarshalEvent formats a project event for streaming payloads.
func MarshalEvent(event domain.ProjectEvent) ([]byte, error) {
	var metadata any
	if len(event.Metadata) > 0 {
		metadata = json.RawMessage(event.Metadata)
	}
	payload := map[string]any{
		"id":           event.ID,
		"projectId":    event.ProjectID,
		"deploymentId": event.DeploymentID,
		"kind":         event.Kind,
		"status":       event.Status,
		"message":      event.Message,
		"actor":        event.Actor,
		"metadata":     metadata,
		"createdAt":    event.CreatedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}
