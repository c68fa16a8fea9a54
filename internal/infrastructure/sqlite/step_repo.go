package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// StepRepo implements [domain.StepRepository] backed by SQLite.
type StepRepo struct {
	DB dbtx
}

func (r *StepRepo) CreateAll(ctx context.Context, steps []domain.RolloutStep) error {
	for _, step := range steps {
		nodeIDs, err := json.Marshal(step.NodeIDs)
		if err != nil {
			return fmt.Errorf("marshal node ids: %w", err)
		}
		var stateErr []byte
		if step.Error != nil {
			stateErr, err = json.Marshal(step.Error)
			if err != nil {
				return fmt.Errorf("marshal error: %w", err)
			}
		}
		_, err = r.DB.ExecContext(ctx,
			`INSERT INTO rollout_steps (rollout_id, step_index, node_ids, state, started_at, completed_at, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(step.RolloutID), step.Index, string(nodeIDs), string(step.State),
			nullTime(step.StartedAt), nullTime(step.CompletedAt), nullString(stateErr),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("rollout %q step %d: %w", step.RolloutID, step.Index, domain.ErrAlreadyExists)
			}
			return fmt.Errorf("insert step: %w", err)
		}
	}
	return nil
}

func (r *StepRepo) ListByRollout(ctx context.Context, id domain.RolloutID) ([]domain.RolloutStep, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT rollout_id, step_index, node_ids, state, started_at, completed_at, error
		 FROM rollout_steps WHERE rollout_id = ? ORDER BY step_index`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.RolloutStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (r *StepRepo) Update(ctx context.Context, step domain.RolloutStep) error {
	var stateErr []byte
	if step.Error != nil {
		var err error
		stateErr, err = json.Marshal(step.Error)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE rollout_steps
		 SET state = ?, started_at = ?, completed_at = ?, error = ?,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE rollout_id = ? AND step_index = ?`,
		string(step.State), nullTime(step.StartedAt), nullTime(step.CompletedAt),
		nullString(stateErr), string(step.RolloutID), step.Index,
	)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("rollout %q step %d: %w", step.RolloutID, step.Index, domain.ErrNotFound)
	}
	return nil
}

func scanStep(s scanner) (domain.RolloutStep, error) {
	var step domain.RolloutStep
	var rolloutID, nodeIDsJSON, state string
	var startedAt, completedAt, errJSON sql.NullString
	if err := s.Scan(&rolloutID, &step.Index, &nodeIDsJSON, &state, &startedAt, &completedAt, &errJSON); err != nil {
		return step, fmt.Errorf("scan step: %w", err)
	}
	step.RolloutID = domain.RolloutID(rolloutID)
	step.State = domain.StepState(state)

	if err := json.Unmarshal([]byte(nodeIDsJSON), &step.NodeIDs); err != nil {
		return step, fmt.Errorf("unmarshal node ids: %w", err)
	}
	if errJSON.Valid {
		step.Error = &domain.StateError{}
		if err := json.Unmarshal([]byte(errJSON.String), step.Error); err != nil {
			return step, fmt.Errorf("unmarshal error: %w", err)
		}
	}

	var err error
	if step.StartedAt, err = timePtr(startedAt); err != nil {
		return step, err
	}
	if step.CompletedAt, err = timePtr(completedAt); err != nil {
		return step, err
	}
	return step, nil
}
