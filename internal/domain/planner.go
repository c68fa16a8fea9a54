package domain

import "fmt"

// PlanSteps partitions the resolved target set into ordered batches. Nodes
// must already be in stable order (see [ResolveTargets]); rolling strategy
// yields fixed-size batches with a smaller final batch, all_at_once yields
// a single batch. An empty target set is an error: rollout creation must
// fail rather than silently produce zero steps.
func PlanSteps(nodes []Node, strategy RolloutStrategy, batchSize int) ([][]NodeID, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: selector resolved to an empty target set", ErrInvalidArgument)
	}

	ids := make([]NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}

	switch strategy {
	case StrategyAllAtOnce:
		return [][]NodeID{ids}, nil
	case StrategyRolling:
		if batchSize <= 0 {
			return nil, fmt.Errorf("%w: batch size must be positive", ErrInvalidArgument)
		}
		var batches [][]NodeID
		for start := 0; start < len(ids); start += batchSize {
			end := start + batchSize
			if end > len(ids) {
				end = len(ids)
			}
			batches = append(batches, ids[start:end])
		}
		return batches, nil
	default:
		return nil, fmt.Errorf("%w: unsupported rollout strategy %q", ErrInvalidArgument, strategy)
	}
}

// NewSteps builds the step rows for a planned rollout: 0-based, contiguous
// indexes, all pending.
func NewSteps(rolloutID RolloutID, batches [][]NodeID) []RolloutStep {
	steps := make([]RolloutStep, len(batches))
	for i, batch := range batches {
		steps[i] = RolloutStep{
			RolloutID: rolloutID,
			Index:     i,
			NodeIDs:   batch,
			State:     StepStatePending,
		}
	}
	return steps
}
