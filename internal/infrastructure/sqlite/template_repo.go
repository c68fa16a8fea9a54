package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// TemplateRepo implements [domain.TemplateRepository] backed by SQLite.
type TemplateRepo struct {
	DB dbtx
}

const templateColumns = `id, project_id, name, selector, strategy, batch_size, max_unavailable,
	 progress_deadline_second, health_gates, require_approval, required_approvals, created_at`

func (r *TemplateRepo) Create(ctx context.Context, t domain.RolloutTemplate) error {
	selector, gates, err := marshalTemplate(t)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO rollout_templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.ProjectID), t.Name, string(selector), string(t.Strategy),
		t.BatchSize, t.MaxUnavailable, t.ProgressDeadlineSecond, string(gates),
		t.RequireApproval, t.RequiredApprovals, timeStr(t.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("template %q: %w", t.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *TemplateRepo) Get(ctx context.Context, id string) (domain.RolloutTemplate, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM rollout_templates WHERE id = ?`,
		id,
	)
	return scanTemplate(row)
}

func (r *TemplateRepo) ListByProject(ctx context.Context, project domain.ProjectID) ([]domain.RolloutTemplate, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM rollout_templates WHERE project_id = ? ORDER BY name`,
		string(project),
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []domain.RolloutTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (r *TemplateRepo) Update(ctx context.Context, t domain.RolloutTemplate) error {
	selector, gates, err := marshalTemplate(t)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE rollout_templates
		 SET name = ?, selector = ?, strategy = ?, batch_size = ?, max_unavailable = ?,
		     progress_deadline_second = ?, health_gates = ?, require_approval = ?,
		     required_approvals = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`,
		t.Name, string(selector), string(t.Strategy), t.BatchSize, t.MaxUnavailable,
		t.ProgressDeadlineSecond, string(gates), t.RequireApproval, t.RequiredApprovals,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("template %q: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *TemplateRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM rollout_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("template %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func marshalTemplate(t domain.RolloutTemplate) (selector, gates []byte, err error) {
	selector, err = json.Marshal(t.Selector)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal selector: %w", err)
	}
	gates, err = json.Marshal(t.HealthGates)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal health gates: %w", err)
	}
	return selector, gates, nil
}

func scanTemplate(s scanner) (domain.RolloutTemplate, error) {
	var t domain.RolloutTemplate
	var project, selectorJSON, strategy, gatesJSON, createdAt string
	if err := s.Scan(&t.ID, &project, &t.Name, &selectorJSON, &strategy, &t.BatchSize,
		&t.MaxUnavailable, &t.ProgressDeadlineSecond, &gatesJSON, &t.RequireApproval,
		&t.RequiredApprovals, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return t, fmt.Errorf("scan template: %w", err)
	}
	t.ProjectID = domain.ProjectID(project)
	t.Strategy = domain.RolloutStrategy(strategy)

	if err := json.Unmarshal([]byte(selectorJSON), &t.Selector); err != nil {
		return t, fmt.Errorf("unmarshal selector: %w", err)
	}
	if err := json.Unmarshal([]byte(gatesJSON), &t.HealthGates); err != nil {
		return t, fmt.Errorf("unmarshal health gates: %w", err)
	}
	var err error
	t.CreatedAt, err = parseTime(createdAt)
	return t, err
}
