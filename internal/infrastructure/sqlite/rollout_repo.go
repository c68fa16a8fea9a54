package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// RolloutRepo implements [domain.RolloutRepository] backed by SQLite.
type RolloutRepo struct {
	DB dbtx
}

const rolloutColumns = `id, project_id, bundle_id, selector, strategy, batch_size, max_unavailable,
	 progress_deadline_second, health_gates, state, approval_state, required_approvals,
	 scheduled_at, started_at, completed_at, error, created_by, created_at`

func (r *RolloutRepo) Create(ctx context.Context, ro domain.Rollout) error {
	selector, gates, stateErr, err := marshalRollout(ro)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO rollouts (`+rolloutColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ro.ID), string(ro.ProjectID), string(ro.BundleID),
		string(selector), string(ro.Strategy), ro.BatchSize, ro.MaxUnavailable,
		ro.ProgressDeadlineSecond, string(gates), string(ro.State), string(ro.ApprovalState),
		ro.RequiredApprovals, nullTime(ro.ScheduledAt), nullTime(ro.StartedAt),
		nullTime(ro.CompletedAt), nullString(stateErr), ro.CreatedBy, timeStr(ro.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rollout %q: %w", ro.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert rollout: %w", err)
	}
	return nil
}

func (r *RolloutRepo) Get(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+rolloutColumns+` FROM rollouts WHERE id = ?`,
		string(id),
	)
	return scanRollout(row)
}

func (r *RolloutRepo) ListByProject(ctx context.Context, project domain.ProjectID) ([]domain.Rollout, error) {
	return r.list(ctx,
		`SELECT `+rolloutColumns+` FROM rollouts WHERE project_id = ? ORDER BY created_at, id`,
		string(project),
	)
}

func (r *RolloutRepo) ListByState(ctx context.Context, state domain.RolloutState) ([]domain.Rollout, error) {
	return r.list(ctx,
		`SELECT `+rolloutColumns+` FROM rollouts WHERE state = ? ORDER BY created_at, id`,
		string(state),
	)
}

func (r *RolloutRepo) list(ctx context.Context, query string, args ...any) ([]domain.Rollout, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rollouts: %w", err)
	}
	defer rows.Close()

	var rollouts []domain.Rollout
	for rows.Next() {
		ro, err := scanRollout(rows)
		if err != nil {
			return nil, err
		}
		rollouts = append(rollouts, ro)
	}
	return rollouts, rows.Err()
}

func (r *RolloutRepo) Update(ctx context.Context, ro domain.Rollout) error {
	selector, gates, stateErr, err := marshalRollout(ro)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE rollouts
		 SET selector = ?, strategy = ?, batch_size = ?, max_unavailable = ?,
		     progress_deadline_second = ?, health_gates = ?, state = ?, approval_state = ?,
		     required_approvals = ?, scheduled_at = ?, started_at = ?, completed_at = ?, error = ?,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`,
		string(selector), string(ro.Strategy), ro.BatchSize, ro.MaxUnavailable,
		ro.ProgressDeadlineSecond, string(gates), string(ro.State), string(ro.ApprovalState),
		ro.RequiredApprovals, nullTime(ro.ScheduledAt), nullTime(ro.StartedAt),
		nullTime(ro.CompletedAt), nullString(stateErr),
		string(ro.ID),
	)
	if err != nil {
		return fmt.Errorf("update rollout: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("rollout %q: %w", ro.ID, domain.ErrNotFound)
	}
	return nil
}

func marshalRollout(ro domain.Rollout) (selector, gates, stateErr []byte, err error) {
	selector, err = json.Marshal(ro.Selector)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal selector: %w", err)
	}
	gates, err = json.Marshal(ro.HealthGates)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal health gates: %w", err)
	}
	if ro.Error != nil {
		stateErr, err = json.Marshal(ro.Error)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal error: %w", err)
		}
	}
	return selector, gates, stateErr, nil
}

func scanRollout(s scanner) (domain.Rollout, error) {
	var ro domain.Rollout
	var id, project, bundle, selectorJSON, strategy, gatesJSON, state, approval, createdAt string
	var scheduledAt, startedAt, completedAt, errJSON sql.NullString
	if err := s.Scan(&id, &project, &bundle, &selectorJSON, &strategy, &ro.BatchSize,
		&ro.MaxUnavailable, &ro.ProgressDeadlineSecond, &gatesJSON, &state, &approval,
		&ro.RequiredApprovals, &scheduledAt, &startedAt, &completedAt, &errJSON,
		&ro.CreatedBy, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ro, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return ro, fmt.Errorf("scan rollout: %w", err)
	}
	ro.ID = domain.RolloutID(id)
	ro.ProjectID = domain.ProjectID(project)
	ro.BundleID = domain.BundleID(bundle)
	ro.Strategy = domain.RolloutStrategy(strategy)
	ro.State = domain.RolloutState(state)
	ro.ApprovalState = domain.ApprovalState(approval)

	if err := json.Unmarshal([]byte(selectorJSON), &ro.Selector); err != nil {
		return ro, fmt.Errorf("unmarshal selector: %w", err)
	}
	if err := json.Unmarshal([]byte(gatesJSON), &ro.HealthGates); err != nil {
		return ro, fmt.Errorf("unmarshal health gates: %w", err)
	}
	if errJSON.Valid {
		ro.Error = &domain.StateError{}
		if err := json.Unmarshal([]byte(errJSON.String), ro.Error); err != nil {
			return ro, fmt.Errorf("unmarshal error: %w", err)
		}
	}

	var err error
	if ro.ScheduledAt, err = timePtr(scheduledAt); err != nil {
		return ro, err
	}
	if ro.StartedAt, err = timePtr(startedAt); err != nil {
		return ro, err
	}
	if ro.CompletedAt, err = timePtr(completedAt); err != nil {
		return ro, err
	}
	if ro.CreatedAt, err = parseTime(createdAt); err != nil {
		return ro, err
	}
	return ro, nil
}
