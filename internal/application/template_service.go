package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// TemplateService manages reusable rollout templates.
type TemplateService struct {
	Templates domain.TemplateRepository

	NewID func() string
	Now   func() time.Time
}

func (s *TemplateService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *TemplateService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create validates and persists a template.
func (s *TemplateService) Create(ctx context.Context, t domain.RolloutTemplate) (domain.RolloutTemplate, error) {
	if t.ID == "" {
		t.ID = s.newID()
	}
	if err := t.Validate(); err != nil {
		return domain.RolloutTemplate{}, err
	}
	t.CreatedAt = s.now()
	if err := s.Templates.Create(ctx, t); err != nil {
		return domain.RolloutTemplate{}, err
	}
	return t, nil
}

// Get returns one template.
func (s *TemplateService) Get(ctx context.Context, id string) (domain.RolloutTemplate, error) {
	return s.Templates.Get(ctx, id)
}

// List returns the project's templates.
func (s *TemplateService) List(ctx context.Context, project domain.ProjectID) ([]domain.RolloutTemplate, error) {
	return s.Templates.ListByProject(ctx, project)
}

// Update validates and persists changes to a template. Rollouts already
// created from it are unaffected.
func (s *TemplateService) Update(ctx context.Context, t domain.RolloutTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.Templates.Update(ctx, t)
}

// Delete removes a template.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	return s.Templates.Delete(ctx, id)
}

// Expand turns a template into a rollout creation input for the given
// bundle. The caller may adjust the input before creating.
func (s *TemplateService) Expand(ctx context.Context, id string, bundle domain.BundleID, createdBy string) (CreateRolloutInput, error) {
	t, err := s.Templates.Get(ctx, id)
	if err != nil {
		return CreateRolloutInput{}, err
	}
	return CreateRolloutInput{
		ProjectID:              t.ProjectID,
		BundleID:               bundle,
		Selector:               t.Selector,
		Strategy:               t.Strategy,
		BatchSize:              t.BatchSize,
		MaxUnavailable:         t.MaxUnavailable,
		ProgressDeadlineSecond: t.ProgressDeadlineSecond,
		HealthGates:            t.HealthGates,
		RequireApproval:        t.RequireApproval,
		RequiredApprovals:      t.RequiredApprovals,
		CreatedBy:              createdBy,
	}, nil
}
