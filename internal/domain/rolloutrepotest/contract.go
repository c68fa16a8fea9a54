// Package rolloutrepotest provides contract tests for
// [domain.RolloutRepository] and [domain.StepRepository] implementations.
// Rollouts and their steps are covered together because the step table is
// meaningless without its rollout.
package rolloutrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// Repos is the pair of repositories under test.
type Repos struct {
	Rollouts domain.RolloutRepository
	Steps    domain.StepRepository
}

// Factory creates fresh repositories for each test invocation.
type Factory func(t *testing.T) Repos

func sampleRollout(id domain.RolloutID) domain.Rollout {
	errRate := 0.05
	return domain.Rollout{
		ID:        id,
		ProjectID: "p1",
		BundleID:  "b1",
		Selector: domain.TargetSelector{
			Type:   domain.SelectorLabels,
			Labels: map[string]string{"region": "eu"},
		},
		Strategy:               domain.StrategyRolling,
		BatchSize:              2,
		ProgressDeadlineSecond: 600,
		HealthGates:            domain.HealthGateConfig{MaxErrorRate: &errRate},
		State:                  domain.RolloutStatePending,
		ApprovalState:          domain.ApprovalNotRequired,
		CreatedBy:              "ops",
		CreatedAt:              time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
}

// Run exercises the rollout and step repository contracts.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repos := factory(t)
		ctx := context.Background()
		r := sampleRollout("r1")

		if err := repos.Rollouts.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repos.Rollouts.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Selector.Type != domain.SelectorLabels || got.Selector.Labels["region"] != "eu" {
			t.Errorf("Selector = %+v, want labels selector round-tripped", got.Selector)
		}
		if got.HealthGates.MaxErrorRate == nil || *got.HealthGates.MaxErrorRate != 0.05 {
			t.Errorf("HealthGates = %+v, want max_error_rate 0.05", got.HealthGates)
		}
		if got.State != domain.RolloutStatePending {
			t.Errorf("State = %q, want pending", got.State)
		}
		if got.StartedAt != nil || got.CompletedAt != nil {
			t.Errorf("timestamps set on a fresh rollout: %v %v", got.StartedAt, got.CompletedAt)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repos := factory(t)
		ctx := context.Background()
		if err := repos.Rollouts.Create(ctx, sampleRollout("r1")); err != nil {
			t.Fatal(err)
		}
		err := repos.Rollouts.Create(ctx, sampleRollout("r1"))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("UpdatePersistsTransition", func(t *testing.T) {
		repos := factory(t)
		ctx := context.Background()
		r := sampleRollout("r1")
		if err := repos.Rollouts.Create(ctx, r); err != nil {
			t.Fatal(err)
		}

		now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		if err := r.Start(now); err != nil {
			t.Fatalf("Start: %v", err)
		}
		r.Error = &domain.StateError{Reason: domain.ReasonHealthGateFailed, Message: "node n1 heartbeat is stale"}
		if err := repos.Rollouts.Update(ctx, r); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repos.Rollouts.Get(ctx, "r1")
		if got.State != domain.RolloutStateRunning {
			t.Errorf("State = %q, want running", got.State)
		}
		if got.StartedAt == nil || !got.StartedAt.Equal(now) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, now)
		}
		if got.Error == nil || got.Error.Reason != domain.ReasonHealthGateFailed {
			t.Errorf("Error = %+v, want structured error round-tripped", got.Error)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repos := factory(t)
		err := repos.Rollouts.Update(context.Background(), sampleRollout("ghost"))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByState", func(t *testing.T) {
		repos := factory(t)
		ctx := context.Background()

		pending := sampleRollout("r1")
		running := sampleRollout("r2")
		running.State = domain.RolloutStateRunning
		for _, r := range []domain.Rollout{pending, running} {
			if err := repos.Rollouts.Create(ctx, r); err != nil {
				t.Fatal(err)
			}
		}

		got, err := repos.Rollouts.ListByState(ctx, domain.RolloutStateRunning)
		if err != nil {
			t.Fatalf("ListByState: %v", err)
		}
		if len(got) != 1 || got[0].ID != "r2" {
			t.Fatalf("ListByState = %v, want only r2", got)
		}
	})

	t.Run("StepsOrderedByIndex", func(t *testing.T) {
		repos := factory(t)
		ctx := context.Background()
		if err := repos.Rollouts.Create(ctx, sampleRollout("r1")); err != nil {
			t.Fatal(err)
		}

		steps := domain.NewSteps("r1", [][]domain.NodeID{{"n1", "n2"}, {"n3", "n4"}, {"n5"}})
		if err := repos.Steps.CreateAll(ctx, steps); err != nil {
			t.Fatalf("CreateAll: %v", err)
		}

		got, err := repos.Steps.ListByRollout(ctx, "r1")
		if err != nil {
			t.Fatalf("ListByRollout: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d steps, want 3", len(got))
		}
		for i, s := range got {
			if s.Index != i {
				t.Errorf("steps[%d].Index = %d", i, s.Index)
			}
		}
		if len(got[2].NodeIDs) != 1 || got[2].NodeIDs[0] != "n5" {
			t.Errorf("last step nodes = %v, want [n5]", got[2].NodeIDs)
		}
	})

	t.Run("StepUpdate", func(t *testing.T) {
		repos := factory(t)
		ctx := context.Background()
		if err := repos.Rollouts.Create(ctx, sampleRollout("r1")); err != nil {
			t.Fatal(err)
		}
		steps := domain.NewSteps("r1", [][]domain.NodeID{{"n1"}})
		if err := repos.Steps.CreateAll(ctx, steps); err != nil {
			t.Fatal(err)
		}

		now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		step := steps[0]
		step.State = domain.StepStateFailed
		step.CompletedAt = &now
		step.Error = &domain.StateError{Reason: domain.ReasonNodeFailed, NodeID: "n1", Message: "activation hook exited 1"}
		if err := repos.Steps.Update(ctx, step); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repos.Steps.ListByRollout(ctx, "r1")
		if got[0].State != domain.StepStateFailed {
			t.Errorf("State = %q, want failed", got[0].State)
		}
		if got[0].Error == nil || got[0].Error.NodeID != "n1" {
			t.Errorf("Error = %+v", got[0].Error)
		}
	})
}
