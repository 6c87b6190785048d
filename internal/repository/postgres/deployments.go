package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/splax/pado/internal/domain"
	"github.com/splax/pado/internal/repository"
)

const deploymentColumns = `id, deployment_id, project_id, created_by, components, created_at`

// CreateDeployment persists a snapshot. The component tree is stored as JSONB.
func (r *txRepo) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	components, err := json.Marshal(deployment.Components)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", domain.ErrSerialization)
	}
	const query = `INSERT INTO deployments (id, deployment_id, project_id, created_by, components, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.tx.Exec(ctx, query,
		deployment.ID,
		deployment.DeploymentID,
		deployment.ProjectID,
		nilIfEmpty(deployment.CreatedBy),
		components,
		deployment.CreatedAt,
	)
	return mapError(err)
}

// LatestDeployment returns the most recent snapshot of a project.
func (r *txRepo) LatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE project_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	return scanDeployment(r.tx.QueryRow(ctx, query, projectID))
}

// GetDeployment returns a snapshot by its deployment id.
func (r *txRepo) GetDeployment(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE deployment_id = $1`
	return scanDeployment(r.tx.QueryRow(ctx, query, deploymentID))
}

// ListDeployments returns recent snapshots of a project, newest first.
func (r *txRepo) ListDeployments(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE project_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.tx.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var (
		d          domain.Deployment
		createdBy  *string
		components []byte
	)
	if err := row.Scan(&d.ID, &d.DeploymentID, &d.ProjectID, &createdBy, &components, &d.CreatedAt); err != nil {
		err = mapError(err)
		if err == repository.ErrNotFound {
			return nil, domain.ErrDeploymentNotFound
		}
		return nil, err
	}
	d.CreatedBy = stringPtrValue(createdBy)
	if err := json.Unmarshal(components, &d.Components); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", d.DeploymentID, domain.ErrSerialization)
	}
	return &d, nil
}
