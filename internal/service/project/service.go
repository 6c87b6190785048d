package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/pado/internal/domain"
	"github.com/splax/pado/internal/repository"
	"github.com/splax/pado/internal/service/validation"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
	Thumbnail   string `json:"thumbnail" validate:"omitempty,url"`
}

// EventSink receives lifecycle events after a change commits.
type EventSink interface {
	Append(ctx context.Context, event domain.ProjectEvent) error
}

// ComponentNode is a component with its children, outgoing connections and
// latest setting.
type ComponentNode struct {
	domain.Component
	Port        int                 `json:"port,omitempty"`
	SettingJSON string              `json:"settingJson,omitempty"`
	Connections []domain.Connection `json:"connections"`
	Children    []ComponentNode     `json:"children"`
}

// Detail is a project with its component tree.
type Detail struct {
	domain.Project
	Components []ComponentNode `json:"components"`
}

// Service orchestrates project management.
type Service struct {
	store  repository.Store
	events EventSink
	logger *slog.Logger
	now    func() time.Time
}

// New returns a project service. events may be nil.
func New(store repository.Store, events EventSink, logger *slog.Logger) Service {
	return Service{store: store, events: events, logger: logger, now: time.Now}
}

// Create registers a new DRAFT project for the caller.
func (s Service) Create(ctx context.Context, caller domain.Caller, input CreateInput) (*domain.Project, error) {
	if err := validation.Caller(caller); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	project := &domain.Project{
		ID:               uuid.NewString(),
		OwnerID:          caller.UserID,
		Name:             input.Name,
		Description:      input.Description,
		Thumbnail:        input.Thumbnail,
		DeploymentStatus: domain.StatusDraft,
		RunningStatus:    domain.RunningDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateProject(ctx, project)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("project %q: %w", input.Name, domain.ErrAlreadyExists)
		}
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "owner_id", project.OwnerID)
	s.emit(ctx, domain.ProjectEvent{
		ProjectID: project.ID,
		Kind:      "project.created",
		Status:    project.DeploymentStatus,
		Message:   "project created",
		Actor:     caller.UserID,
		CreatedAt: now,
	})
	return project, nil
}

// List returns the caller's projects, newest first.
func (s Service) List(ctx context.Context, caller domain.Caller) ([]domain.Project, error) {
	if err := validation.Caller(caller); err != nil {
		return nil, err
	}
	var projects []domain.Project
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		projects, err = tx.ListProjects(ctx, caller.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// Get returns the caller's project without its graph.
func (s Service) Get(ctx context.Context, caller domain.Caller, projectID string) (*domain.Project, error) {
	if err := validation.Caller(caller); err != nil {
		return nil, err
	}
	projectID, err := validation.ID("project", projectID)
	if err != nil {
		return nil, err
	}
	var project *domain.Project
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		project, err = tx.GetProject(ctx, projectID, caller.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// Detail returns the project with its component tree.
func (s Service) Detail(ctx context.Context, caller domain.Caller, projectID string) (*Detail, error) {
	if err := validation.Caller(caller); err != nil {
		return nil, err
	}
	projectID, err := validation.ID("project", projectID)
	if err != nil {
		return nil, err
	}

	var detail *Detail
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		project, err := tx.GetProject(ctx, projectID, caller.UserID)
		if err != nil {
			return err
		}
		components, err := tx.ListComponents(ctx, projectID)
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
		detail = &Detail{Project: *project, Components: buildTree(domain.NewGraph(components, connections), settings)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// Delete removes a project and its graph. Snapshots are kept.
func (s Service) Delete(ctx context.Context, caller domain.Caller, projectID string) error {
	if err := validation.Caller(caller); err != nil {
		return err
	}
	projectID, err := validation.ID("project", projectID)
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		project, err := tx.LockProject(ctx, projectID, caller.UserID)
		if err != nil {
			return err
		}
		if !project.DeploymentStatus.CanEditGraph() {
			return fmt.Errorf("delete project in %s: %w", project.DeploymentStatus, domain.ErrInvalidProjectStatus)
		}
		return tx.DeleteProject(ctx, projectID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", projectID, "owner_id", caller.UserID)
	return nil
}

func (s Service) emit(ctx context.Context, event domain.ProjectEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Warn("project event dropped", "project_id", event.ProjectID, "kind", event.Kind, "error", err)
	}
}

func buildTree(g *domain.Graph, settings map[string]domain.ComponentSetting) []ComponentNode {
	seen := make(map[string]struct{}, g.Len())
	var build func(id string) (ComponentNode, bool)
	build = func(id string) (ComponentNode, bool) {
		if _, ok := seen[id]; ok {
			return ComponentNode{}, false
		}
		seen[id] = struct{}{}
		c, ok := g.Component(id)
		if !ok {
			return ComponentNode{}, false
		}
		node := ComponentNode{
			Component:   c,
			Connections: g.Outgoing(id),
			Children:    make([]ComponentNode, 0),
		}
		if node.Connections == nil {
			node.Connections = make([]domain.Connection, 0)
		}
		if setting, ok := settings[id]; ok {
			node.Port = setting.Port
			node.SettingJSON = setting.Value
		}
		for _, childID := range g.ChildIDs(id) {
			if child, ok := build(childID); ok {
				node.Children = append(node.Children, child)
			}
		}
		return node, true
	}

	roots := make([]ComponentNode, 0)
	for _, id := range g.RootIDs() {
		if node, ok := build(id); ok {
			roots = append(roots, node)
		}
	}
	return roots
}
