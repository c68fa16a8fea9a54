package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// EndpointRepo implements [domain.EndpointRepository] backed by SQLite.
type EndpointRepo struct {
	DB dbtx
}

const endpointColumns = `id, project_id, name, url, method, timeout_ms, expected_status,
	 body_contains, headers, enabled, created_at`

func (r *EndpointRepo) Create(ctx context.Context, e domain.HealthCheckEndpoint) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO health_check_endpoints (`+endpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.ProjectID), e.Name, e.URL, string(e.Method), e.TimeoutMS,
		e.ExpectedStatus, e.BodyContains, string(headers), e.Enabled, timeStr(e.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("endpoint %q: %w", e.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

func (r *EndpointRepo) Get(ctx context.Context, id string) (domain.HealthCheckEndpoint, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM health_check_endpoints WHERE id = ?`,
		id,
	)
	return scanEndpoint(row)
}

func (r *EndpointRepo) ListByProject(ctx context.Context, project domain.ProjectID) ([]domain.HealthCheckEndpoint, error) {
	return r.list(ctx,
		`SELECT `+endpointColumns+` FROM health_check_endpoints WHERE project_id = ? ORDER BY created_at, id`,
		string(project),
	)
}

func (r *EndpointRepo) ListEnabled(ctx context.Context, project domain.ProjectID) ([]domain.HealthCheckEndpoint, error) {
	return r.list(ctx,
		`SELECT `+endpointColumns+` FROM health_check_endpoints
		 WHERE project_id = ? AND enabled = 1 ORDER BY created_at, id`,
		string(project),
	)
}

func (r *EndpointRepo) list(ctx context.Context, query string, args ...any) ([]domain.HealthCheckEndpoint, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []domain.HealthCheckEndpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

func (r *EndpointRepo) Update(ctx context.Context, e domain.HealthCheckEndpoint) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE health_check_endpoints
		 SET name = ?, url = ?, method = ?, timeout_ms = ?, expected_status = ?,
		     body_contains = ?, headers = ?, enabled = ?,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`,
		e.Name, e.URL, string(e.Method), e.TimeoutMS, e.ExpectedStatus,
		e.BodyContains, string(headers), e.Enabled, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("endpoint %q: %w", e.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *EndpointRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM health_check_endpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("endpoint %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanEndpoint(s scanner) (domain.HealthCheckEndpoint, error) {
	var e domain.HealthCheckEndpoint
	var project, method, headersJSON, createdAt string
	if err := s.Scan(&e.ID, &project, &e.Name, &e.URL, &method, &e.TimeoutMS,
		&e.ExpectedStatus, &e.BodyContains, &headersJSON, &e.Enabled, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return e, fmt.Errorf("scan endpoint: %w", err)
	}
	e.ProjectID = domain.ProjectID(project)
	e.Method = domain.ProbeMethod(method)

	if err := json.Unmarshal([]byte(headersJSON), &e.Headers); err != nil {
		return e, fmt.Errorf("unmarshal headers: %w", err)
	}
	var err error
	e.CreatedAt, err = parseTime(createdAt)
	return e, err
}
