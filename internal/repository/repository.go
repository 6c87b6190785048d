package repository

import (
	"context"
	"time"

	"github.com/splax/pado/internal/domain"
)

// Store runs units of work against the resource graph. Every call to InTx is
// one transaction: fn's writes commit together when it returns nil and roll
// back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the graph repositories bound to a single transaction.
type Tx interface {
	ProjectRepository
	ComponentRepository
	SettingRepository
	ConnectionRepository
	CatalogRepository
	DeploymentRepository
}

// ProjectRepository persists projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	// LockProject loads the owner's project and holds a write lock until the transaction ends.
	LockProject(ctx context.Context, projectID, ownerID string) (*domain.Project, error)
	GetProject(ctx context.Context, projectID, ownerID string) (*domain.Project, error)
	// LockProjectByID locks a project without an owner filter, for worker reports.
	LockProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpdateProjectStatus(ctx context.Context, projectID string, status domain.DeploymentStatus, running domain.RunningStatus, at time.Time) error
	DeleteProject(ctx context.Context, projectID string) error
}

// ComponentStatusUpdate is a bulk status change applied to every component of a project.
type ComponentStatusUpdate struct {
	Status          domain.DeploymentStatus
	RunningStatus   domain.RunningStatus
	DeployStartedAt *time.Time
	DeployEndedAt   *time.Time
}

// ComponentRepository persists components.
type ComponentRepository interface {
	CreateComponent(ctx context.Context, component *domain.Component) error
	GetComponent(ctx context.Context, projectID, componentID string) (*domain.Component, error)
	// LockComponents loads every component of the project under a write lock.
	LockComponents(ctx context.Context, projectID string) ([]domain.Component, error)
	ListComponents(ctx context.Context, projectID string) ([]domain.Component, error)
	UpdateComponentStatuses(ctx context.Context, projectID string, update ComponentStatusUpdate) (int, error)
	DeleteComponent(ctx context.Context, componentID string) error
}

// SettingRepository persists versioned component settings.
type SettingRepository interface {
	CreateSetting(ctx context.Context, setting *domain.ComponentSetting) error
	LatestSetting(ctx context.Context, componentID string) (*domain.ComponentSetting, error)
	LatestSettings(ctx context.Context, projectID string) (map[string]domain.ComponentSetting, error)
	DeleteSettings(ctx context.Context, componentID string) error
}

// ConnectionRepository persists connections.
type ConnectionRepository interface {
	CreateConnection(ctx context.Context, conn *domain.Connection) error
	GetConnection(ctx context.Context, connectionID, fromComponentID string) (*domain.Connection, error)
	ListConnections(ctx context.Context, projectID string) ([]domain.Connection, error)
	SyncConnectionPorts(ctx context.Context, componentID string, port int) error
	DeleteConnection(ctx context.Context, connectionID string) error
}

// CatalogRepository reads the component catalog and default settings.
type CatalogRepository interface {
	ListCatalog(ctx context.Context) ([]domain.CatalogEntry, error)
	FindCatalogEntry(ctx context.Context, resourceType, serviceType string) (*domain.CatalogEntry, error)
	DefaultSetting(ctx context.Context, subtype string) (*domain.DefaultSetting, error)
}

// DeploymentRepository stores immutable deployment snapshots.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	LatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error)
	GetDeployment(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeployments(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
}

// EventRepository handles project event persistence and retrieval.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *domain.ProjectEvent) error
	ListEvents(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectEvent, error)
}
