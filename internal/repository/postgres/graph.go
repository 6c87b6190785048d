package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/splax/pado/internal/domain"
	"github.com/splax/pado/internal/repository"
)

const projectColumns = `id, owner_id, name, description, thumbnail, deployment_status, running_status, created_at, updated_at`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p         domain.Project
		thumbnail *string
		status    string
		running   string
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &thumbnail, &status, &running, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	p.Thumbnail = stringPtrValue(thumbnail)
	p.DeploymentStatus = domain.DeploymentStatus(status)
	p.RunningStatus = domain.RunningStatus(running)
	return &p, nil
}

// CreateProject inserts a project.
func (r *txRepo) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner_id, name, description, thumbnail, deployment_status, running_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.tx.Exec(ctx, query,
		project.ID,
		project.OwnerID,
		project.Name,
		project.Description,
		nilIfEmpty(project.Thumbnail),
		string(project.DeploymentStatus),
		string(project.RunningStatus),
		project.CreatedAt,
		project.UpdatedAt,
	)
	return mapError(err)
}

// LockProject selects the owner's project FOR UPDATE.
func (r *txRepo) LockProject(ctx context.Context, projectID, ownerID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND owner_id = $2 FOR UPDATE`
	return scanProject(r.tx.QueryRow(ctx, query, projectID, ownerID))
}

// LockProjectByID selects a project FOR UPDATE regardless of owner.
func (r *txRepo) LockProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 FOR UPDATE`
	return scanProject(r.tx.QueryRow(ctx, query, projectID))
}

// GetProject reads the owner's project without locking.
func (r *txRepo) GetProject(ctx context.Context, projectID, ownerID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND owner_id = $2`
	return scanProject(r.tx.QueryRow(ctx, query, projectID, ownerID))
}

// ListProjects returns an owner's projects, newest first.
func (r *txRepo) ListProjects(ctx context.Context, ownerID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC, id`
	rows, err := r.tx.Query(ctx, query, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// UpdateProjectStatus writes both status fields of a project.
func (r *txRepo) UpdateProjectStatus(ctx context.Context, projectID string, status domain.DeploymentStatus, running domain.RunningStatus, at time.Time) error {
	const query = `UPDATE projects SET deployment_status = $2, running_status = $3, updated_at = $4 WHERE id = $1`
	tag, err := r.tx.Exec(ctx, query, projectID, string(status), string(running), at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project and, through cascades, its graph.
func (r *txRepo) DeleteProject(ctx context.Context, projectID string) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const componentColumns = `id, project_id, parent_id, name, type, subtype, thumbnail, version,
	deployment_status, running_status, deploy_started_at, deploy_ended_at, created_at`

func scanComponent(row pgx.Row) (*domain.Component, error) {
	var (
		c         domain.Component
		parentID  *string
		thumbnail *string
		kind      string
		status    string
		running   string
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &parentID, &c.Name, &kind, &c.Subtype, &thumbnail, &c.Version,
		&status, &running, &c.DeployStartedAt, &c.DeployEndedAt, &c.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	c.ParentID = stringPtrValue(parentID)
	c.Thumbnail = stringPtrValue(thumbnail)
	c.Type = domain.ComponentType(kind)
	c.DeploymentStatus = domain.DeploymentStatus(status)
	c.RunningStatus = domain.RunningStatus(running)
	return &c, nil
}

func (r *txRepo) queryComponents(ctx context.Context, query string, args ...any) ([]domain.Component, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	components := make([]domain.Component, 0)
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		components = append(components, *c)
	}
	return components, rows.Err()
}

// CreateComponent inserts a component.
func (r *txRepo) CreateComponent(ctx context.Context, component *domain.Component) error {
	const query = `INSERT INTO components (id, project_id, parent_id, name, type, subtype, thumbnail, version,
			deployment_status, running_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.tx.Exec(ctx, query,
		component.ID,
		component.ProjectID,
		nilIfEmpty(component.ParentID),
		component.Name,
		string(component.Type),
		component.Subtype,
		nilIfEmpty(component.Thumbnail),
		component.Version,
		string(component.DeploymentStatus),
		string(component.RunningStatus),
		component.CreatedAt,
	)
	return mapError(err)
}

// GetComponent reads a component scoped to its project.
func (r *txRepo) GetComponent(ctx context.Context, projectID, componentID string) (*domain.Component, error) {
	query := `SELECT ` + componentColumns + ` FROM components WHERE id = $1 AND project_id = $2`
	return scanComponent(r.tx.QueryRow(ctx, query, componentID, projectID))
}

// LockComponents selects every component of a project FOR UPDATE in a stable order.
func (r *txRepo) LockComponents(ctx context.Context, projectID string) ([]domain.Component, error) {
	query := `SELECT ` + componentColumns + ` FROM components WHERE project_id = $1 ORDER BY created_at, id FOR UPDATE`
	return r.queryComponents(ctx, query, projectID)
}

// ListComponents reads every component of a project.
func (r *txRepo) ListComponents(ctx context.Context, projectID string) ([]domain.Component, error) {
	query := `SELECT ` + componentColumns + ` FROM components WHERE project_id = $1 ORDER BY created_at, id`
	return r.queryComponents(ctx, query, projectID)
}

// UpdateComponentStatuses bulk-updates the statuses of a project's components.
func (r *txRepo) UpdateComponentStatuses(ctx context.Context, projectID string, update repository.ComponentStatusUpdate) (int, error) {
	const query = `UPDATE components SET
			deployment_status = $2,
			running_status = $3,
			deploy_started_at = COALESCE($4, deploy_started_at),
			deploy_ended_at = CASE WHEN $4::timestamptz IS NOT NULL THEN $5::timestamptz ELSE COALESCE($5::timestamptz, deploy_ended_at) END
		WHERE project_id = $1`
	tag, err := r.tx.Exec(ctx, query,
		projectID,
		string(update.Status),
		string(update.RunningStatus),
		update.DeployStartedAt,
		update.DeployEndedAt,
	)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteComponent removes a component; children and connections cascade.
func (r *txRepo) DeleteComponent(ctx context.Context, componentID string) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM components WHERE id = $1`, componentID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateSetting stores the next setting version for a component.
func (r *txRepo) CreateSetting(ctx context.Context, setting *domain.ComponentSetting) error {
	const query = `INSERT INTO component_settings (component_id, version, subtype, port, value, created_at)
		VALUES ($1, COALESCE((SELECT MAX(version) FROM component_settings WHERE component_id = $1), 0) + 1, $2, $3, $4, $5)
		RETURNING id, version`
	err := r.tx.QueryRow(ctx, query,
		setting.ComponentID,
		setting.Subtype,
		setting.Port,
		setting.Value,
		setting.CreatedAt,
	).Scan(&setting.ID, &setting.Version)
	return mapError(err)
}

// LatestSetting returns the highest setting version of a component.
func (r *txRepo) LatestSetting(ctx context.Context, componentID string) (*domain.ComponentSetting, error) {
	const query = `SELECT id, component_id, version, subtype, port, value, created_at
		FROM component_settings WHERE component_id = $1 ORDER BY version DESC LIMIT 1`
	var s domain.ComponentSetting
	err := r.tx.QueryRow(ctx, query, componentID).Scan(&s.ID, &s.ComponentID, &s.Version, &s.Subtype, &s.Port, &s.Value, &s.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

// LatestSettings returns the latest setting of every component in a project, keyed by component id.
func (r *txRepo) LatestSettings(ctx context.Context, projectID string) (map[string]domain.ComponentSetting, error) {
	const query = `SELECT DISTINCT ON (s.component_id) s.id, s.component_id, s.version, s.subtype, s.port, s.value, s.created_at
		FROM component_settings s
		INNER JOIN components c ON c.id = s.component_id
		WHERE c.project_id = $1
		ORDER BY s.component_id, s.version DESC`
	rows, err := r.tx.Query(ctx, query, projectID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	settings := make(map[string]domain.ComponentSetting)
	for rows.Next() {
		var s domain.ComponentSetting
		if err := rows.Scan(&s.ID, &s.ComponentID, &s.Version, &s.Subtype, &s.Port, &s.Value, &s.CreatedAt); err != nil {
			return nil, err
		}
		settings[s.ComponentID] = s
	}
	return settings, rows.Err()
}

// DeleteSettings removes every setting version of a component.
func (r *txRepo) DeleteSettings(ctx context.Context, componentID string) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM component_settings WHERE component_id = $1`, componentID)
	return mapError(err)
}

const connectionColumns = `id, project_id, from_component_id, to_component_id, type, from_port, to_port, created_at`

func scanConnection(row pgx.Row) (*domain.Connection, error) {
	var (
		c    domain.Connection
		kind string
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &c.FromComponentID, &c.ToComponentID, &kind, &c.FromPort, &c.ToPort, &c.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	c.Type = domain.ConnectionType(kind)
	return &c, nil
}

// CreateConnection inserts a connection.
func (r *txRepo) CreateConnection(ctx context.Context, conn *domain.Connection) error {
	const query = `INSERT INTO connections (id, project_id, from_component_id, to_component_id, type, from_port, to_port, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.tx.Exec(ctx, query,
		conn.ID,
		conn.ProjectID,
		conn.FromComponentID,
		conn.ToComponentID,
		string(conn.Type),
		conn.FromPort,
		conn.ToPort,
		conn.CreatedAt,
	)
	return mapError(err)
}

// GetConnection reads a connection originating from the given component.
func (r *txRepo) GetConnection(ctx context.Context, connectionID, fromComponentID string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1 AND from_component_id = $2`
	return scanConnection(r.tx.QueryRow(ctx, query, connectionID, fromComponentID))
}

// ListConnections reads every connection of a project.
func (r *txRepo) ListConnections(ctx context.Context, projectID string) ([]domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE project_id = $1 ORDER BY created_at, id`
	rows, err := r.tx.Query(ctx, query, projectID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	connections := make([]domain.Connection, 0)
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, *c)
	}
	return connections, rows.Err()
}

// SyncConnectionPorts rewrites the ports of connections touching a component.
func (r *txRepo) SyncConnectionPorts(ctx context.Context, componentID string, port int) error {
	batch := &pgx.Batch{}
	batch.Queue(`UPDATE connections SET from_port = $2 WHERE from_component_id = $1`, componentID, port)
	batch.Queue(`UPDATE connections SET to_port = $2 WHERE to_component_id = $1`, componentID, port)
	br := r.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return mapError(err)
		}
	}
	return br.Close()
}

// DeleteConnection removes a connection.
func (r *txRepo) DeleteConnection(ctx context.Context, connectionID string) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM connections WHERE id = $1`, connectionID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListCatalog returns every resource/service pairing.
func (r *txRepo) ListCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	const query = `SELECT id, name, description, resource_thumbnail, service_thumbnail, resource_type, service_type
		FROM component_catalog ORDER BY id`
	rows, err := r.tx.Query(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	entries := make([]domain.CatalogEntry, 0)
	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// FindCatalogEntry looks up a pairing by its two subtypes.
func (r *txRepo) FindCatalogEntry(ctx context.Context, resourceType, serviceType string) (*domain.CatalogEntry, error) {
	const query = `SELECT id, name, description, resource_thumbnail, service_thumbnail, resource_type, service_type
		FROM component_catalog WHERE resource_type = $1 AND service_type = $2`
	entry, err := scanCatalogEntry(r.tx.QueryRow(ctx, query, resourceType, serviceType))
	if err != nil {
		return nil, fmt.Errorf("catalog entry %s/%s: %w", resourceType, serviceType, err)
	}
	return entry, nil
}

func scanCatalogEntry(row pgx.Row) (*domain.CatalogEntry, error) {
	var (
		e             domain.CatalogEntry
		resourceThumb *string
		serviceThumb  *string
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Description, &resourceThumb, &serviceThumb, &e.ResourceType, &e.ServiceType); err != nil {
		return nil, mapError(err)
	}
	e.ResourceThumbnail = stringPtrValue(resourceThumb)
	e.ServiceThumbnail = stringPtrValue(serviceThumb)
	return &e, nil
}

// DefaultSetting returns the seed setting for a subtype.
func (r *txRepo) DefaultSetting(ctx context.Context, subtype string) (*domain.DefaultSetting, error) {
	const query = `SELECT subtype, port, value FROM component_default_settings WHERE subtype = $1`
	var d domain.DefaultSetting
	if err := r.tx.QueryRow(ctx, query, subtype).Scan(&d.Subtype, &d.Port, &d.Value); err != nil {
		return nil, fmt.Errorf("default setting %s: %w", subtype, mapError(err))
	}
	return &d, nil
}
