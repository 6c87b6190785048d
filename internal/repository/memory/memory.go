// Package memory provides an in-process implementation of the repository
// interfaces. Transactions are serialized by a single mutex and applied to a
// copy of the state, so a failing unit of work leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/splax/pado/internal/domain"
	"github.com/splax/pado/internal/repository"
)

// Store is an in-memory repository.Store and repository.EventRepository.
type Store struct {
	mu    sync.Mutex
	state *state

	eventsMu sync.RWMutex
	events   []domain.ProjectEvent
	nextID   int64
}

var (
	_ repository.Store           = (*Store)(nil)
	_ repository.EventRepository = (*Store)(nil)
	_ repository.Tx              = (*txView)(nil)
)

type state struct {
	projects        map[string]domain.Project
	components      map[string]domain.Component
	componentOrder  []string
	settings        map[string][]domain.ComponentSetting
	nextSettingID   int64
	connections     map[string]domain.Connection
	connectionOrder []string
	deployments     []domain.Deployment
	catalog         []domain.CatalogEntry
	defaults        map[string]domain.DefaultSetting
}

// Option configures a Store.
type Option func(*state)

// WithCatalog seeds catalog entries and default settings.
func WithCatalog(entries []domain.CatalogEntry, defaults []domain.DefaultSetting) Option {
	return func(s *state) {
		for i, entry := range entries {
			if entry.ID == 0 {
				entry.ID = int64(len(s.catalog) + i + 1)
			}
			s.catalog = append(s.catalog, entry)
		}
		for _, d := range defaults {
			s.defaults[d.Subtype] = d
		}
	}
}

// WithDefaultCatalog seeds the same catalog the SQL migrations install.
func WithDefaultCatalog() Option {
	return WithCatalog(DefaultCatalog())
}

// DefaultCatalog returns the built-in resource/service pairings and their default settings.
func DefaultCatalog() ([]domain.CatalogEntry, []domain.DefaultSetting) {
	entries := []domain.CatalogEntry{
		{Name: "Spring on EC2", Description: "Spring Boot application on a compute instance", ResourceType: "EC2", ServiceType: "SPRING"},
		{Name: "React on EC2", Description: "React frontend served from a compute instance", ResourceType: "EC2", ServiceType: "REACT"},
		{Name: "Node on EC2", Description: "Node.js service on a compute instance", ResourceType: "EC2", ServiceType: "NODE"},
		{Name: "MySQL on RDS", Description: "Managed MySQL database", ResourceType: "RDS", ServiceType: "MYSQL"},
		{Name: "PostgreSQL on RDS", Description: "Managed PostgreSQL database", ResourceType: "RDS", ServiceType: "POSTGRESQL"},
		{Name: "Spring on S3", Description: "Spring artifact bundle stored in object storage", ResourceType: "S3", ServiceType: "SPRING"},
		{Name: "Static site on S3", Description: "Static website hosted in object storage", ResourceType: "S3", ServiceType: "STATIC_SITE"},
	}
	defaults := []domain.DefaultSetting{
		{Subtype: "EC2", Port: 22, Value: `{"instanceType":"t3.micro","region":"ap-northeast-2"}`},
		{Subtype: "RDS", Port: 5432, Value: `{"instanceClass":"db.t3.micro","storageGb":20}`},
		{Subtype: "S3", Port: 443, Value: `{"versioning":false,"publicRead":false}`},
		{Subtype: "SPRING", Port: 8080, Value: `{"javaVersion":"21","profile":"prod"}`},
		{Subtype: "REACT", Port: 3000, Value: `{"nodeVersion":"20","buildCommand":"npm run build"}`},
		{Subtype: "NODE", Port: 3000, Value: `{"nodeVersion":"20","startCommand":"npm start"}`},
		{Subtype: "MYSQL", Port: 3306, Value: `{"version":"8.0","database":"app"}`},
		{Subtype: "POSTGRESQL", Port: 5432, Value: `{"version":"16","database":"app"}`},
		{Subtype: "STATIC_SITE", Port: 443, Value: `{"indexDocument":"index.html"}`},
	}
	return entries, defaults
}

// New returns an empty store.
func New(opts ...Option) *Store {
	st := &state{
		projects:    make(map[string]domain.Project),
		components:  make(map[string]domain.Component),
		settings:    make(map[string][]domain.ComponentSetting),
		connections: make(map[string]domain.Connection),
		defaults:    make(map[string]domain.DefaultSetting),
	}
	for _, opt := range opts {
		opt(st)
	}
	return &Store{state: st}
}

// InTx applies fn to a private copy of the state and publishes the copy only
// when fn succeeds. Transactions never overlap.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&txView{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.state = work
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// AppendEvent stores a project event.
func (s *Store) AppendEvent(_ context.Context, event *domain.ProjectEvent) error {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.nextID++
	event.ID = s.nextID
	s.events = append(s.events, *event)
	return nil
}

// ListEvents returns a project's events, newest first.
func (s *Store) ListEvents(_ context.Context, projectID string, limit, offset int) ([]domain.ProjectEvent, error) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	out := make([]domain.ProjectEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ProjectID == projectID {
			out = append(out, s.events[i])
		}
	}
	if offset >= len(out) {
		return []domain.ProjectEvent{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Snapshot helpers for tests.

// Project returns a committed project.
func (s *Store) Project(id string) (domain.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.projects[id]
	return p, ok
}

// Components returns the committed components of a project in creation order.
func (s *Store) Components(projectID string) []domain.Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.projectComponents(projectID)
}

// Deployments returns every committed snapshot of a project, oldest first.
func (s *Store) Deployments(projectID string) []domain.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Deployment, 0)
	for _, d := range s.state.deployments {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	return out
}

func (st *state) clone() *state {
	out := &state{
		projects:        make(map[string]domain.Project, len(st.projects)),
		components:      make(map[string]domain.Component, len(st.components)),
		componentOrder:  append([]string(nil), st.componentOrder...),
		settings:        make(map[string][]domain.ComponentSetting, len(st.settings)),
		nextSettingID:   st.nextSettingID,
		connections:     make(map[string]domain.Connection, len(st.connections)),
		connectionOrder: append([]string(nil), st.connectionOrder...),
		deployments:     append([]domain.Deployment(nil), st.deployments...),
		catalog:         append([]domain.CatalogEntry(nil), st.catalog...),
		defaults:        make(map[string]domain.DefaultSetting, len(st.defaults)),
	}
	for k, v := range st.projects {
		out.projects[k] = v
	}
	for k, v := range st.components {
		out.components[k] = v
	}
	for k, v := range st.settings {
		out.settings[k] = append([]domain.ComponentSetting(nil), v...)
	}
	for k, v := range st.connections {
		out.connections[k] = v
	}
	for k, v := range st.defaults {
		out.defaults[k] = v
	}
	return out
}

func (st *state) projectComponents(projectID string) []domain.Component {
	out := make([]domain.Component, 0)
	for _, id := range st.componentOrder {
		if c, ok := st.components[id]; ok && c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out
}

func (st *state) removeComponent(id string) {
	for _, childID := range st.componentOrder {
		if child, ok := st.components[childID]; ok && child.ParentID == id {
			st.removeComponent(childID)
		}
	}
	delete(st.components, id)
	delete(st.settings, id)
	for connID, conn := range st.connections {
		if conn.FromComponentID == id || conn.ToComponentID == id {
			delete(st.connections, connID)
		}
	}
}

// txView exposes repository.Tx over a working copy of the state.
type txView struct {
	st *state
}

func (t *txView) CreateProject(_ context.Context, project *domain.Project) error {
	if _, ok := t.st.projects[project.ID]; ok {
		return fmt.Errorf("project %s: %w", project.ID, repository.ErrConflict)
	}
	for _, existing := range t.st.projects {
		if existing.OwnerID == project.OwnerID && existing.Name == project.Name {
			return fmt.Errorf("projects_owner_name_key: %w", repository.ErrConflict)
		}
	}
	t.st.projects[project.ID] = *project
	return nil
}

func (t *txView) LockProject(ctx context.Context, projectID, ownerID string) (*domain.Project, error) {
	return t.GetProject(ctx, projectID, ownerID)
}

func (t *txView) LockProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	p, ok := t.st.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (t *txView) GetProject(_ context.Context, projectID, ownerID string) (*domain.Project, error) {
	p, ok := t.st.projects[projectID]
	if !ok || p.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (t *txView) ListProjects(_ context.Context, ownerID string) ([]domain.Project, error) {
	out := make([]domain.Project, 0)
	for _, p := range t.st.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *txView) UpdateProjectStatus(_ context.Context, projectID string, status domain.DeploymentStatus, running domain.RunningStatus, at time.Time) error {
	p, ok := t.st.projects[projectID]
	if !ok {
		return repository.ErrNotFound
	}
	p.DeploymentStatus = status
	p.RunningStatus = running
	p.UpdatedAt = at
	t.st.projects[projectID] = p
	return nil
}

func (t *txView) DeleteProject(_ context.Context, projectID string) error {
	if _, ok := t.st.projects[projectID]; !ok {
		return repository.ErrNotFound
	}
	for _, c := range t.st.projectComponents(projectID) {
		t.st.removeComponent(c.ID)
	}
	delete(t.st.projects, projectID)
	return nil
}

func (t *txView) CreateComponent(_ context.Context, component *domain.Component) error {
	if _, ok := t.st.projects[component.ProjectID]; !ok {
		return fmt.Errorf("components_project_id_fkey: %w", repository.ErrNotFound)
	}
	if component.ParentID != "" {
		if _, ok := t.st.components[component.ParentID]; !ok {
			return fmt.Errorf("components_parent_id_fkey: %w", repository.ErrNotFound)
		}
	}
	for _, existing := range t.st.projectComponents(component.ProjectID) {
		if existing.Name == component.Name {
			return fmt.Errorf("components_project_name_key: %w", repository.ErrConflict)
		}
	}
	stored := *component
	stored.ChildIDs = nil
	t.st.components[component.ID] = stored
	t.st.componentOrder = append(t.st.componentOrder, component.ID)
	return nil
}

func (t *txView) GetComponent(_ context.Context, projectID, componentID string) (*domain.Component, error) {
	c, ok := t.st.components[componentID]
	if !ok || c.ProjectID != projectID {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (t *txView) LockComponents(ctx context.Context, projectID string) ([]domain.Component, error) {
	return t.ListComponents(ctx, projectID)
}

func (t *txView) ListComponents(_ context.Context, projectID string) ([]domain.Component, error) {
	return t.st.projectComponents(projectID), nil
}

func (t *txView) UpdateComponentStatuses(_ context.Context, projectID string, update repository.ComponentStatusUpdate) (int, error) {
	count := 0
	for _, c := range t.st.projectComponents(projectID) {
		c.DeploymentStatus = update.Status
		c.RunningStatus = update.RunningStatus
		if update.DeployStartedAt != nil {
			started := *update.DeployStartedAt
			c.DeployStartedAt = &started
			c.DeployEndedAt = copyTime(update.DeployEndedAt)
		} else if update.DeployEndedAt != nil {
			c.DeployEndedAt = copyTime(update.DeployEndedAt)
		}
		t.st.components[c.ID] = c
		count++
	}
	return count, nil
}

func (t *txView) DeleteComponent(_ context.Context, componentID string) error {
	if _, ok := t.st.components[componentID]; !ok {
		return repository.ErrNotFound
	}
	t.st.removeComponent(componentID)
	return nil
}

func (t *txView) CreateSetting(_ context.Context, setting *domain.ComponentSetting) error {
	if _, ok := t.st.components[setting.ComponentID]; !ok {
		return fmt.Errorf("component_settings_component_id_fkey: %w", repository.ErrNotFound)
	}
	if setting.Port <= 0 || setting.Port > 65535 {
		return fmt.Errorf("port %d out of range: %w", setting.Port, repository.ErrInvalidArgument)
	}
	versions := t.st.settings[setting.ComponentID]
	var version int64 = 1
	if n := len(versions); n > 0 {
		version = versions[n-1].Version + 1
	}
	t.st.nextSettingID++
	setting.ID = t.st.nextSettingID
	setting.Version = version
	t.st.settings[setting.ComponentID] = append(versions, *setting)
	return nil
}

func (t *txView) LatestSetting(_ context.Context, componentID string) (*domain.ComponentSetting, error) {
	versions := t.st.settings[componentID]
	if len(versions) == 0 {
		return nil, repository.ErrNotFound
	}
	latest := versions[len(versions)-1]
	return &latest, nil
}

func (t *txView) LatestSettings(_ context.Context, projectID string) (map[string]domain.ComponentSetting, error) {
	out := make(map[string]domain.ComponentSetting)
	for _, c := range t.st.projectComponents(projectID) {
		if versions := t.st.settings[c.ID]; len(versions) > 0 {
			out[c.ID] = versions[len(versions)-1]
		}
	}
	return out, nil
}

func (t *txView) DeleteSettings(_ context.Context, componentID string) error {
	delete(t.st.settings, componentID)
	return nil
}

func (t *txView) CreateConnection(_ context.Context, conn *domain.Connection) error {
	if _, ok := t.st.components[conn.FromComponentID]; !ok {
		return fmt.Errorf("connections_from_component_id_fkey: %w", repository.ErrNotFound)
	}
	if _, ok := t.st.components[conn.ToComponentID]; !ok {
		return fmt.Errorf("connections_to_component_id_fkey: %w", repository.ErrNotFound)
	}
	if conn.FromComponentID == conn.ToComponentID {
		return fmt.Errorf("connections_not_self: %w", repository.ErrInvalidArgument)
	}
	t.st.connections[conn.ID] = *conn
	t.st.connectionOrder = append(t.st.connectionOrder, conn.ID)
	return nil
}

func (t *txView) GetConnection(_ context.Context, connectionID, fromComponentID string) (*domain.Connection, error) {
	c, ok := t.st.connections[connectionID]
	if !ok || c.FromComponentID != fromComponentID {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (t *txView) ListConnections(_ context.Context, projectID string) ([]domain.Connection, error) {
	out := make([]domain.Connection, 0)
	for _, id := range t.st.connectionOrder {
		if c, ok := t.st.connections[id]; ok && c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *txView) SyncConnectionPorts(_ context.Context, componentID string, port int) error {
	for id, c := range t.st.connections {
		if c.FromComponentID == componentID {
			c.FromPort = port
		}
		if c.ToComponentID == componentID {
			c.ToPort = port
		}
		t.st.connections[id] = c
	}
	return nil
}

func (t *txView) DeleteConnection(_ context.Context, connectionID string) error {
	if _, ok := t.st.connections[connectionID]; !ok {
		return repository.ErrNotFound
	}
	delete(t.st.connections, connectionID)
	return nil
}

func (t *txView) ListCatalog(context.Context) ([]domain.CatalogEntry, error) {
	return append([]domain.CatalogEntry(nil), t.st.catalog...), nil
}

func (t *txView) FindCatalogEntry(_ context.Context, resourceType, serviceType string) (*domain.CatalogEntry, error) {
	for _, entry := range t.st.catalog {
		if entry.ResourceType == resourceType && entry.ServiceType == serviceType {
			e := entry
			return &e, nil
		}
	}
	return nil, fmt.Errorf("catalog entry %s/%s: %w", resourceType, serviceType, repository.ErrNotFound)
}

func (t *txView) DefaultSetting(_ context.Context, subtype string) (*domain.DefaultSetting, error) {
	d, ok := t.st.defaults[subtype]
	if !ok {
		return nil, fmt.Errorf("default setting %s: %w", subtype, repository.ErrNotFound)
	}
	return &d, nil
}

func (t *txView) CreateDeployment(_ context.Context, deployment *domain.Deployment) error {
	for _, existing := range t.st.deployments {
		if existing.DeploymentID == deployment.DeploymentID {
			return fmt.Errorf("deployments_deployment_id_key: %w", repository.ErrConflict)
		}
	}
	t.st.deployments = append(t.st.deployments, *deployment)
	return nil
}

func (t *txView) LatestDeployment(_ context.Context, projectID string) (*domain.Deployment, error) {
	var latest *domain.Deployment
	for i := range t.st.deployments {
		d := t.st.deployments[i]
		if d.ProjectID != projectID {
			continue
		}
		if latest == nil || !d.CreatedAt.Before(latest.CreatedAt) {
			latest = &d
		}
	}
	if latest == nil {
		return nil, domain.ErrDeploymentNotFound
	}
	return latest, nil
}

func (t *txView) GetDeployment(_ context.Context, deploymentID string) (*domain.Deployment, error) {
	for _, d := range t.st.deployments {
		if d.DeploymentID == deploymentID {
			out := d
			return &out, nil
		}
	}
	return nil, domain.ErrDeploymentNotFound
}

func (t *txView) ListDeployments(_ context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	out := make([]domain.Deployment, 0)
	for i := len(t.st.deployments) - 1; i >= 0; i-- {
		if t.st.deployments[i].ProjectID == projectID {
			out = append(out, t.st.deployments[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
