package domain

import (
	"fmt"
	"time"
)

// RolloutTemplate is a named, reusable bundle of rollout creation
// parameters minus project, bundle, and creator. Pure data; templates are
// expanded into create inputs by the caller and take no part in
// orchestration.
type RolloutTemplate struct {
	ID        string
	ProjectID ProjectID
	Name      string

	Selector               TargetSelector
	Strategy               RolloutStrategy
	BatchSize              int
	MaxUnavailable         int
	ProgressDeadlineSecond int
	HealthGates            HealthGateConfig
	RequireApproval        bool
	RequiredApprovals      int

	CreatedAt time.Time
}

// Validate applies the same creation-time checks a rollout would get.
func (t RolloutTemplate) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidArgument)
	}
	if err := t.Selector.Validate(); err != nil {
		return err
	}
	switch t.Strategy {
	case StrategyRolling, StrategyAllAtOnce:
	default:
		return fmt.Errorf("%w: unsupported rollout strategy %q", ErrInvalidArgument, t.Strategy)
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidArgument)
	}
	if t.MaxUnavailable < 0 {
		return fmt.Errorf("%w: max unavailable must not be negative", ErrInvalidArgument)
	}
	if t.ProgressDeadlineSecond <= 0 {
		return fmt.Errorf("%w: progress deadline must be positive", ErrInvalidArgument)
	}
	if t.RequireApproval && t.RequiredApprovals <= 0 {
		return fmt.Errorf("%w: required approvals must be positive", ErrInvalidArgument)
	}
	return nil
}
