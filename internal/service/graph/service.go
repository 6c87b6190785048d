// Package graph edits the component graph of a project. Every mutation runs
// in one transaction that holds the project row lock and is refused unless
// the project is in an editable status.
package graph

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

// ComponentInput selects a catalog pairing and, optionally, an existing
// resource to host the new service.
type ComponentInput struct {
	ResourceType string `json:"resourceType" validate:"required,max=50"`
	ServiceType  string `json:"serviceType" validate:"required,max=50"`
	ParentID     string `json:"parentId" validate:"omitempty,uuid"`
}

// Created reports the components a CreateComponent call produced. Resource
// is the hosting resource, whether new or pre-existing.
type Created struct {
	Resource       domain.Component `json:"resource"`
	Service        domain.Component `json:"service"`
	ResourceIsNew  bool             `json:"resourceCreated"`
	ResourcePort   int              `json:"resourcePort"`
	ServicePort    int              `json:"servicePort"`
	ServiceSetting string           `json:"serviceSettingJson"`
}

// SettingInput is a new setting version for a component.
type SettingInput struct {
	Port        int    `json:"port" validate:"min=1,max=65535"`
	SettingJSON string `json:"settingJson" validate:"required,json"`
}

// ConnectionInput links a source component to a target.
type ConnectionInput struct {
	TargetComponentID string `json:"targetComponentId" validate:"required"`
	ConnectionType    string `json:"connectionType" validate:"omitempty,oneof=TCP UDP tcp udp"`
}

// Service edits project graphs.
type Service struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New returns a graph service.
func New(store repository.Store, logger *slog.Logger) Service {
	return Service{store: store, logger: logger, now: time.Now, newID: uuid.NewString}
}

// Catalog lists the resource/service pairings components can be created from.
func (s Service) Catalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	var entries []domain.CatalogEntry
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		entries, err = tx.ListCatalog(ctx)
		return err
	})
	return entries, err
}

// CreateComponent adds a service component, creating its hosting resource
// unless input names an existing one. Both receive their default setting.
func (s Service) CreateComponent(ctx context.Context, caller domain.Caller, projectID string, input ComponentInput) (*Created, error) {
	input.ResourceType = strings.ToUpper(strings.TrimSpace(input.ResourceType))
	input.ServiceType = strings.ToUpper(strings.TrimSpace(input.ServiceType))
	input.ParentID = strings.TrimSpace(input.ParentID)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	var out *Created
	err := s.mutate(ctx, caller, projectID, func(tx repository.Tx, project *domain.Project) error {
		entry, err := tx.FindCatalogEntry(ctx, input.ResourceType, input.ServiceType)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		out = &Created{}

		if input.ParentID != "" {
			parent, err := tx.GetComponent(ctx, project.ID, input.ParentID)
			if err != nil {
				return err
			}
			if err := entry.ValidateParent(*parent); err != nil {
				return err
			}
			out.Resource = *parent
		} else {
			resource := s.newComponent(project.ID, "", domain.ComponentResource, entry.ResourceType, entry.ResourceThumbnail, now)
			port, _, err := s.insertWithDefaults(ctx, tx, &resource)
			if err != nil {
				return err
			}
			out.Resource, out.ResourceIsNew, out.ResourcePort = resource, true, port
		}

		service := s.newComponent(project.ID, out.Resource.ID, domain.ComponentService, entry.ServiceType, entry.ServiceThumbnail, now)
		port, value, err := s.insertWithDefaults(ctx, tx, &service)
		if err != nil {
			return err
		}
		out.Service, out.ServicePort, out.ServiceSetting = service, port, value
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("component created", "project_id", out.Service.ProjectID, "component_id", out.Service.ID, "parent_id", out.Resource.ID)
	return out, nil
}

// UpdateSetting stores a new setting version and re-syncs the ports of the
// component's existing connections.
func (s Service) UpdateSetting(ctx context.Context, caller domain.Caller, projectID, componentID string, input SettingInput) (*domain.ComponentSetting, error) {
	componentID, err := validation.ID("component", componentID)
	if err != nil {
		return nil, err
	}
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	var setting *domain.ComponentSetting
	err = s.mutate(ctx, caller, projectID, func(tx repository.Tx, project *domain.Project) error {
		component, err := tx.GetComponent(ctx, project.ID, componentID)
		if err != nil {
			return err
		}
		setting = &domain.ComponentSetting{
			ComponentID: component.ID,
			Subtype:     component.Subtype,
			Port:        input.Port,
			Value:       input.SettingJSON,
			CreatedAt:   s.now().UTC(),
		}
		if err := tx.CreateSetting(ctx, setting); err != nil {
			return err
		}
		return tx.SyncConnectionPorts(ctx, component.ID, input.Port)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("component setting updated", "component_id", componentID, "version", setting.Version)
	return setting, nil
}

// DeleteComponent removes a component with its settings. Children and
// connections touching it go with it.
func (s Service) DeleteComponent(ctx context.Context, caller domain.Caller, projectID, componentID string) error {
	componentID, err := validation.ID("component", componentID)
	if err != nil {
		return err
	}
	err = s.mutate(ctx, caller, projectID, func(tx repository.Tx, project *domain.Project) error {
		component, err := tx.GetComponent(ctx, project.ID, componentID)
		if err != nil {
			return err
		}
		if err := tx.DeleteSettings(ctx, component.ID); err != nil {
			return err
		}
		return tx.DeleteComponent(ctx, component.ID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("component deleted", "component_id", componentID)
	return nil
}

// CreateConnection links sourceID to the target. Ports are taken from the
// latest settings of both ends.
func (s Service) CreateConnection(ctx context.Context, caller domain.Caller, projectID, sourceID string, input ConnectionInput) (*domain.Connection, error) {
	sourceID, err := validation.ID("component", sourceID)
	if err != nil {
		return nil, err
	}
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	targetID, err := validation.ID("component", input.TargetComponentID)
	if err != nil {
		return nil, err
	}
	connType, err := domain.ParseConnectionType(input.ConnectionType)
	if err != nil {
		return nil, err
	}
	if sourceID == targetID {
		return nil, fmt.Errorf("component %s cannot connect to itself: %w", sourceID, domain.ErrInvalidArgument)
	}

	var conn *domain.Connection
	err = s.mutate(ctx, caller, projectID, func(tx repository.Tx, project *domain.Project) error {
		ports := make([]int, 0, 2)
		for _, id := range []string{sourceID, targetID} {
			if _, err := tx.GetComponent(ctx, project.ID, id); err != nil {
				return err
			}
			setting, err := tx.LatestSetting(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("component %s: %w", id, domain.ErrComponentSettingNotFound)
				}
				return err
			}
			ports = append(ports, setting.Port)
		}
		conn = &domain.Connection{
			ID:              s.newID(),
			ProjectID:       project.ID,
			FromComponentID: sourceID,
			ToComponentID:   targetID,
			Type:            connType,
			FromPort:        ports[0],
			ToPort:          ports[1],
			CreatedAt:       s.now().UTC(),
		}
		return tx.CreateConnection(ctx, conn)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("connection created", "connection_id", conn.ID, "from", sourceID, "to", targetID)
	return conn, nil
}

// DeleteConnection removes a connection whose source is sourceID.
func (s Service) DeleteConnection(ctx context.Context, caller domain.Caller, projectID, sourceID, connectionID string) error {
	sourceID, err := validation.ID("component", sourceID)
	if err != nil {
		return err
	}
	connectionID, err = validation.ID("connection", connectionID)
	if err != nil {
		return err
	}
	return s.mutate(ctx, caller, projectID, func(tx repository.Tx, project *domain.Project) error {
		if _, err := tx.GetComponent(ctx, project.ID, sourceID); err != nil {
			return err
		}
		conn, err := tx.GetConnection(ctx, connectionID, sourceID)
		if err != nil {
			return err
		}
		return tx.DeleteConnection(ctx, conn.ID)
	})
}

// mutate locks the caller's project and runs fn when the graph is editable.
func (s Service) mutate(ctx context.Context, caller domain.Caller, projectID string, fn func(tx repository.Tx, project *domain.Project) error) error {
	if err := validation.Caller(caller); err != nil {
		return err
	}
	projectID, err := validation.ID("project", projectID)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx repository.Tx) error {
		project, err := tx.LockProject(ctx, projectID, caller.UserID)
		if err != nil {
			return err
		}
		if !project.DeploymentStatus.CanEditGraph() {
			return fmt.Errorf("graph is locked while project is %s: %w", project.DeploymentStatus, domain.ErrInvalidProjectStatus)
		}
		return fn(tx, project)
	})
}

func (s Service) newComponent(projectID, parentID string, kind domain.ComponentType, subtype, thumbnail string, now time.Time) domain.Component {
	id := s.newID()
	return domain.Component{
		ID:               id,
		ProjectID:        projectID,
		ParentID:         parentID,
		Name:             componentName(subtype, id),
		Type:             kind,
		Subtype:          subtype,
		Thumbnail:        thumbnail,
		Version:          1,
		DeploymentStatus: domain.StatusDraft,
		RunningStatus:    domain.RunningDraft,
		CreatedAt:        now,
	}
}

// insertWithDefaults stores the component and its first setting.
func (s Service) insertWithDefaults(ctx context.Context, tx repository.Tx, c *domain.Component) (int, string, error) {
	def, err := tx.DefaultSetting(ctx, c.Subtype)
	if err != nil {
		return 0, "", err
	}
	if err := tx.CreateComponent(ctx, c); err != nil {
		return 0, "", err
	}
	setting := &domain.ComponentSetting{
		ComponentID: c.ID,
		Subtype:     c.Subtype,
		Port:        def.Port,
		Value:       def.Value,
		CreatedAt:   c.CreatedAt,
	}
	if err := tx.CreateSetting(ctx, setting); err != nil {
		return 0, "", err
	}
	return setting.Port, setting.Value, nil
}

// componentName derives a readable name such as "ec2-1a2b3c4d".
func componentName(subtype, id string) string {
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return strings.ToLower(subtype) + "-" + suffix
}
