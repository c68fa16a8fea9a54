package sqlite

import (
	"context"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// ApprovalRepo implements [domain.ApprovalRepository] backed by SQLite. The
// (rollout_id, approver) primary key enforces one approval per user.
type ApprovalRepo struct {
	DB dbtx
}

func (r *ApprovalRepo) Create(ctx context.Context, a domain.RolloutApproval) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO rollout_approvals (rollout_id, approver, approved_at) VALUES (?, ?, ?)`,
		string(a.RolloutID), a.User, timeStr(a.ApprovedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("approval by %q for rollout %q: %w", a.User, a.RolloutID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (r *ApprovalRepo) CountByRollout(ctx context.Context, id domain.RolloutID) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rollout_approvals WHERE rollout_id = ?`,
		string(id),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count approvals: %w", err)
	}
	return n, nil
}

func (r *ApprovalRepo) ListByRollout(ctx context.Context, id domain.RolloutID) ([]domain.RolloutApproval, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT rollout_id, approver, approved_at FROM rollout_approvals WHERE rollout_id = ? ORDER BY approved_at, approver`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.RolloutApproval
	for rows.Next() {
		var a domain.RolloutApproval
		var rolloutID, approvedAt string
		if err := rows.Scan(&rolloutID, &a.User, &approvedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.RolloutID = domain.RolloutID(rolloutID)
		if a.ApprovedAt, err = parseTime(approvedAt); err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}
