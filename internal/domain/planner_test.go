package domain_test

import (
	"errors"
	"testing"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

func TestPlanSteps_RollingBatchPattern(t *testing.T) {
	// 5 nodes, batch size 2 → [2, 2, 1].
	batches, err := domain.PlanSteps(pool("n1", "n2", "n3", "n4", "n5"), domain.StrategyRolling, 2)
	if err != nil {
		t.Fatalf("PlanSteps: %v", err)
	}
	want := [][]domain.NodeID{{"n1", "n2"}, {"n3", "n4"}, {"n5"}}
	if len(batches) != len(want) {
		t.Fatalf("got %d batches, want %d", len(batches), len(want))
	}
	for i := range want {
		if len(batches[i]) != len(want[i]) {
			t.Fatalf("batch %d has %d nodes, want %d", i, len(batches[i]), len(want[i]))
		}
		for j := range want[i] {
			if batches[i][j] != want[i][j] {
				t.Errorf("batch %d node %d = %q, want %q", i, j, batches[i][j], want[i][j])
			}
		}
	}
}

func TestPlanSteps_AllAtOnceSingleBatch(t *testing.T) {
	batches, err := domain.PlanSteps(pool("n1", "n2", "n3"), domain.StrategyAllAtOnce, 1)
	if err != nil {
		t.Fatalf("PlanSteps: %v", err)
	}
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("got %v, want one batch of three", batches)
	}
}

func TestPlanSteps_EmptyTargetSetIsError(t *testing.T) {
	_, err := domain.PlanSteps(nil, domain.StrategyRolling, 2)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestPlanSteps_NonPositiveBatchSizeIsError(t *testing.T) {
	_, err := domain.PlanSteps(pool("n1"), domain.StrategyRolling, 0)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestNewSteps_ContiguousZeroBasedIndexes(t *testing.T) {
	steps := domain.NewSteps("r1", [][]domain.NodeID{{"n1"}, {"n2"}, {"n3"}})
	for i, s := range steps {
		if s.Index != i {
			t.Errorf("steps[%d].Index = %d", i, s.Index)
		}
		if s.State != domain.StepStatePending {
			t.Errorf("steps[%d].State = %q, want pending", i, s.State)
		}
		if s.RolloutID != "r1" {
			t.Errorf("steps[%d].RolloutID = %q", i, s.RolloutID)
		}
	}
}
