package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/pado/internal/domain"
	"github.com/splax/pado/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.Store           = (*Repository)(nil)
	_ repository.EventRepository = (*Repository)(nil)
	_ repository.Tx              = (*txRepo)(nil)
)

// InTx runs fn inside a read-committed transaction. Row locks taken by fn are
// released when the transaction commits or rolls back.
func (r *Repository) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txRepo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// AppendEvent persists a project event.
func (r *Repository) AppendEvent(ctx context.Context, event *domain.ProjectEvent) error {
	const query = `INSERT INTO project_events (project_id, deployment_id, kind, status, message, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	err := r.pool.QueryRow(ctx, query,
		event.ProjectID,
		nilIfEmpty(event.DeploymentID),
		event.Kind,
		string(event.Status),
		event.Message,
		event.Actor,
		nilIfNoBytes(event.Metadata),
		event.CreatedAt,
	).Scan(&event.ID)
	return mapError(err)
}

// ListEvents fetches events for a project, newest first.
func (r *Repository) ListEvents(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectEvent, error) {
	const query = `SELECT id, project_id, deployment_id, kind, status, message, actor, metadata, created_at
		FROM project_events WHERE project_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	events := make([]domain.ProjectEvent, 0)
	for rows.Next() {
		var (
			e            domain.ProjectEvent
			deploymentID *string
			status       string
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &deploymentID, &e.Kind, &status, &e.Message, &e.Actor, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = domain.DeploymentStatus(status)
		if deploymentID != nil {
			e.DeploymentID = *deploymentID
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// txRepo binds the graph repositories to one pgx transaction.
type txRepo struct {
	tx pgx.Tx
}

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, repository.ErrNotFound)
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, repository.ErrConflict)
		case "23514", "22P02":
			return fmt.Errorf("%s: %w", pgErr.Message, repository.ErrInvalidArgument)
		}
	}
	return err
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nilIfNoBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func stringPtrValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
