package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// DriftRepo implements [domain.DriftEventRepository] backed by SQLite.
type DriftRepo struct {
	DB dbtx
}

const driftColumns = `id, project_id, node_id, expected_bundle_id, actual_bundle_id, detected_at,
	 severity, resolved_at, resolution`

func (r *DriftRepo) Create(ctx context.Context, e domain.DriftEvent) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO drift_events (`+driftColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.ProjectID), string(e.NodeID), string(e.ExpectedBundleID),
		nullBundleID(e.ActualBundleID), timeStr(e.DetectedAt), string(e.Severity),
		nullTime(e.ResolvedAt), string(e.Resolution),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("drift event %q: %w", e.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert drift event: %w", err)
	}
	return nil
}

func (r *DriftRepo) Get(ctx context.Context, id string) (domain.DriftEvent, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+driftColumns+` FROM drift_events WHERE id = ?`,
		id,
	)
	return scanDriftEvent(row)
}

func (r *DriftRepo) GetUnresolvedByNode(ctx context.Context, node domain.NodeID) (domain.DriftEvent, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+driftColumns+` FROM drift_events WHERE node_id = ? AND resolved_at IS NULL`,
		string(node),
	)
	return scanDriftEvent(row)
}

func (r *DriftRepo) ListByProject(ctx context.Context, project domain.ProjectID, unresolvedOnly bool) ([]domain.DriftEvent, error) {
	query := `SELECT ` + driftColumns + ` FROM drift_events WHERE project_id = ?`
	if unresolvedOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY detected_at, id`

	rows, err := r.DB.QueryContext(ctx, query, string(project))
	if err != nil {
		return nil, fmt.Errorf("list drift events: %w", err)
	}
	defer rows.Close()

	var events []domain.DriftEvent
	for rows.Next() {
		e, err := scanDriftEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *DriftRepo) Update(ctx context.Context, e domain.DriftEvent) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE drift_events
		 SET severity = ?, resolved_at = ?, resolution = ?,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`,
		string(e.Severity), nullTime(e.ResolvedAt), string(e.Resolution), e.ID,
	)
	if err != nil {
		return fmt.Errorf("update drift event: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("drift event %q: %w", e.ID, domain.ErrNotFound)
	}
	return nil
}

func scanDriftEvent(s scanner) (domain.DriftEvent, error) {
	var e domain.DriftEvent
	var project, node, expected, detectedAt, severity, resolution string
	var actual, resolvedAt sql.NullString
	if err := s.Scan(&e.ID, &project, &node, &expected, &actual, &detectedAt,
		&severity, &resolvedAt, &resolution); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return e, fmt.Errorf("scan drift event: %w", err)
	}
	e.ProjectID = domain.ProjectID(project)
	e.NodeID = domain.NodeID(node)
	e.ExpectedBundleID = domain.BundleID(expected)
	e.ActualBundleID = bundleIDPtr(actual)
	e.Severity = domain.DriftSeverity(severity)
	e.Resolution = domain.DriftResolution(resolution)

	var err error
	if e.DetectedAt, err = parseTime(detectedAt); err != nil {
		return e, err
	}
	if e.ResolvedAt, err = timePtr(resolvedAt); err != nil {
		return e, err
	}
	return e, nil
}
