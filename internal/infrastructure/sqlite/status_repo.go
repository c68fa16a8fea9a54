package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// StatusRepo implements [domain.NodeBundleStatusRepository] backed by SQLite.
type StatusRepo struct {
	DB dbtx
}

const statusColumns = `rollout_id, node_id, state, staged_at, activated_at, verified_at, last_report_at, reason, error`

func (r *StatusRepo) Create(ctx context.Context, st domain.NodeBundleStatus) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO node_bundle_statuses (`+statusColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(st.RolloutID), string(st.NodeID), string(st.State),
		nullTime(st.StagedAt), nullTime(st.ActivatedAt), nullTime(st.VerifiedAt),
		nullTime(st.LastReportAt), st.Reason, st.Error,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("status for rollout %q node %q: %w", st.RolloutID, st.NodeID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert status: %w", err)
	}
	return nil
}

func (r *StatusRepo) Get(ctx context.Context, rollout domain.RolloutID, node domain.NodeID) (domain.NodeBundleStatus, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+statusColumns+` FROM node_bundle_statuses WHERE rollout_id = ? AND node_id = ?`,
		string(rollout), string(node),
	)
	return scanStatus(row)
}

func (r *StatusRepo) ListByRollout(ctx context.Context, rollout domain.RolloutID) ([]domain.NodeBundleStatus, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+statusColumns+` FROM node_bundle_statuses WHERE rollout_id = ? ORDER BY node_id`,
		string(rollout),
	)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var statuses []domain.NodeBundleStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (r *StatusRepo) Update(ctx context.Context, st domain.NodeBundleStatus) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE node_bundle_statuses
		 SET state = ?, staged_at = ?, activated_at = ?, verified_at = ?, last_report_at = ?,
		     reason = ?, error = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE rollout_id = ? AND node_id = ?`,
		string(st.State), nullTime(st.StagedAt), nullTime(st.ActivatedAt), nullTime(st.VerifiedAt),
		nullTime(st.LastReportAt), st.Reason, st.Error,
		string(st.RolloutID), string(st.NodeID),
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("status for rollout %q node %q: %w", st.RolloutID, st.NodeID, domain.ErrNotFound)
	}
	return nil
}

func scanStatus(s scanner) (domain.NodeBundleStatus, error) {
	var st domain.NodeBundleStatus
	var rolloutID, nodeID, state string
	var stagedAt, activatedAt, verifiedAt, lastReportAt sql.NullString
	if err := s.Scan(&rolloutID, &nodeID, &state, &stagedAt, &activatedAt, &verifiedAt,
		&lastReportAt, &st.Reason, &st.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return st, fmt.Errorf("scan status: %w", err)
	}
	st.RolloutID = domain.RolloutID(rolloutID)
	st.NodeID = domain.NodeID(nodeID)
	st.State = domain.NodeBundleState(state)

	var err error
	if st.StagedAt, err = timePtr(stagedAt); err != nil {
		return st, err
	}
	if st.ActivatedAt, err = timePtr(activatedAt); err != nil {
		return st, err
	}
	if st.VerifiedAt, err = timePtr(verifiedAt); err != nil {
		return st, err
	}
	if st.LastReportAt, err = timePtr(lastReportAt); err != nil {
		return st, err
	}
	return st, nil
}
