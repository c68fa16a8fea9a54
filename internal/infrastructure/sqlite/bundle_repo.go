package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// BundleRepo implements [domain.BundleRepository] backed by SQLite.
type BundleRepo struct {
	DB dbtx
}

func (r *BundleRepo) Create(ctx context.Context, b domain.Bundle) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO bundles (id, project_id, name, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(b.ID), string(b.ProjectID), b.Name, string(b.Status), timeStr(b.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("bundle %q: %w", b.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert bundle: %w", err)
	}
	return nil
}

func (r *BundleRepo) Get(ctx context.Context, id domain.BundleID) (domain.Bundle, error) {
	var b domain.Bundle
	var bid, project, status, createdAt string
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, project_id, name, status, created_at FROM bundles WHERE id = ?`,
		string(id),
	).Scan(&bid, &project, &b.Name, &status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, fmt.Errorf("bundle %q: %w", id, domain.ErrNotFound)
		}
		return b, fmt.Errorf("scan bundle: %w", err)
	}
	b.ID = domain.BundleID(bid)
	b.ProjectID = domain.ProjectID(project)
	b.Status = domain.BundleStatus(status)
	b.CreatedAt, err = parseTime(createdAt)
	return b, err
}
