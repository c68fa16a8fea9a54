package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// NodeRepo implements [domain.NodeRepository] backed by SQLite.
type NodeRepo struct {
	DB dbtx
}

const nodeColumns = `id, project_id, name, labels, capabilities, status, last_seen_at, metrics,
	 expected_bundle_id, active_bundle_id, staged_bundle_id`

func (r *NodeRepo) Create(ctx context.Context, n domain.Node) error {
	labels, err := json.Marshal(n.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	caps, err := json.Marshal(n.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	metrics, err := json.Marshal(n.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	var lastSeen sql.NullString
	if !n.LastSeenAt.IsZero() {
		lastSeen = sql.NullString{String: timeStr(n.LastSeenAt), Valid: true}
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(n.ID), string(n.ProjectID), n.Name, string(labels), string(caps),
		string(n.Status), lastSeen, string(metrics),
		nullBundleID(n.ExpectedBundleID), nullBundleID(n.ActiveBundleID), nullBundleID(n.StagedBundleID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("node %q: %w", n.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (r *NodeRepo) Get(ctx context.Context, id domain.NodeID) (domain.Node, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`,
		string(id),
	)
	return scanNode(row)
}

func (r *NodeRepo) ListByProject(ctx context.Context, project domain.ProjectID) ([]domain.Node, error) {
	return r.list(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE project_id = ? ORDER BY id`,
		string(project),
	)
}

func (r *NodeRepo) ListManaged(ctx context.Context, project domain.ProjectID) ([]domain.Node, error) {
	return r.list(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE project_id = ? AND expected_bundle_id IS NOT NULL ORDER BY id`,
		string(project),
	)
}

func (r *NodeRepo) Projects(ctx context.Context) ([]domain.ProjectID, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT project_id FROM nodes ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []domain.ProjectID
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, domain.ProjectID(p))
	}
	return projects, rows.Err()
}

func (r *NodeRepo) list(ctx context.Context, query string, args ...any) ([]domain.Node, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (r *NodeRepo) Update(ctx context.Context, n domain.Node) error {
	labels, err := json.Marshal(n.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	caps, err := json.Marshal(n.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	metrics, err := json.Marshal(n.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	var lastSeen sql.NullString
	if !n.LastSeenAt.IsZero() {
		lastSeen = sql.NullString{String: timeStr(n.LastSeenAt), Valid: true}
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE nodes
		 SET name = ?, labels = ?, capabilities = ?, status = ?, last_seen_at = ?, metrics = ?,
		     expected_bundle_id = ?, active_bundle_id = ?, staged_bundle_id = ?,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`,
		n.Name, string(labels), string(caps), string(n.Status), lastSeen, string(metrics),
		nullBundleID(n.ExpectedBundleID), nullBundleID(n.ActiveBundleID), nullBundleID(n.StagedBundleID),
		string(n.ID),
	)
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	num, _ := res.RowsAffected()
	if num == 0 {
		return fmt.Errorf("node %q: %w", n.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *NodeRepo) Delete(ctx context.Context, id domain.NodeID) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("node %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanNode(s scanner) (domain.Node, error) {
	var n domain.Node
	var id, project, labelsJSON, capsJSON, status, metricsJSON string
	var lastSeen, expected, active, staged sql.NullString
	if err := s.Scan(&id, &project, &n.Name, &labelsJSON, &capsJSON, &status,
		&lastSeen, &metricsJSON, &expected, &active, &staged); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return n, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return n, fmt.Errorf("scan node: %w", err)
	}
	n.ID = domain.NodeID(id)
	n.ProjectID = domain.ProjectID(project)
	n.Status = domain.NodeStatus(status)

	if err := json.Unmarshal([]byte(labelsJSON), &n.Labels); err != nil {
		return n, fmt.Errorf("unmarshal labels: %w", err)
	}
	if err := json.Unmarshal([]byte(capsJSON), &n.Capabilities); err != nil {
		return n, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &n.Metrics); err != nil {
		return n, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if lastSeen.Valid {
		t, err := parseTime(lastSeen.String)
		if err != nil {
			return n, err
		}
		n.LastSeenAt = t
	}
	n.ExpectedBundleID = bundleIDPtr(expected)
	n.ActiveBundleID = bundleIDPtr(active)
	n.StagedBundleID = bundleIDPtr(staged)
	return n, nil
}
