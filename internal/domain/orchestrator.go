package domain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TickOutcome is the result of one orchestrator tick.
type TickOutcome string

const (
	OutcomeStepStarted      TickOutcome = "step_started"
	OutcomeStepVerifying    TickOutcome = "step_verifying"
	OutcomeStepCompleted    TickOutcome = "step_completed"
	OutcomeWaiting          TickOutcome = "waiting"
	OutcomeCompleted        TickOutcome = "completed"
	OutcomeDeadlineExceeded TickOutcome = "deadline_exceeded"
	OutcomeNotRunning       TickOutcome = "not_running"
	OutcomeStepFailed       TickOutcome = "step_failed"
	OutcomeGateFailed       TickOutcome = "health_gate_failed"
)

// StopsTicking reports whether the tick driver should stop rescheduling the
// rollout. True exactly when the rollout is no longer running after the
// tick: terminal outcomes, the gate auto-pause, and not_running.
func (o TickOutcome) StopsTicking() bool {
	switch o {
	case OutcomeCompleted, OutcomeDeadlineExceeded, OutcomeNotRunning,
		OutcomeStepFailed, OutcomeGateFailed:
		return true
	}
	return false
}

// Orchestrator owns the rollout, step, and node-bundle-status state
// machines. Each Tick advances exactly one unit of progress; all side
// effects of a tick commit in one transaction. The orchestrator keeps no
// state between ticks — every tick reloads persisted rows, so crash
// recovery is simply the next scheduled tick.
type Orchestrator struct {
	Tx        TxRunner
	Endpoints EndpointRepository
	Gate      *HealthGateEvaluator
	Now       func() time.Time
	Log       *zap.Logger
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) log() *zap.Logger {
	if o.Log != nil {
		return o.Log
	}
	return zap.NewNop()
}

// Tick evaluates and advances the rollout. Checked in order: running
// state, progress deadline, then the first non-completed step. The
// deadline runs before any step work so enforcement cannot be starved by
// a slow step.
func (o *Orchestrator) Tick(ctx context.Context, id RolloutID) (TickOutcome, error) {
	outcome := OutcomeWaiting
	err := o.Tx.InTx(ctx, func(r Repos) error {
		var err error
		outcome, err = o.tick(ctx, r, id)
		return err
	})
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (o *Orchestrator) tick(ctx context.Context, r Repos, id RolloutID) (TickOutcome, error) {
	rollout, err := r.Rollouts.Get(ctx, id)
	if err != nil {
		return OutcomeNotRunning, fmt.Errorf("load rollout: %w", err)
	}
	now := o.now()

	if rollout.State != RolloutStateRunning {
		return OutcomeNotRunning, nil
	}

	deadline := time.Duration(rollout.ProgressDeadlineSecond) * time.Second
	if rollout.StartedAt != nil && now.Sub(*rollout.StartedAt) > deadline {
		rollout.Fail(now, StateError{
			Reason:  ReasonDeadlineExceeded,
			Message: fmt.Sprintf("no completion within %d seconds", rollout.ProgressDeadlineSecond),
		})
		if err := r.Rollouts.Update(ctx, rollout); err != nil {
			return OutcomeWaiting, fmt.Errorf("fail rollout: %w", err)
		}
		o.log().Warn("rollout exceeded progress deadline",
			zap.String("rollout", string(id)),
			zap.Int("deadline_seconds", rollout.ProgressDeadlineSecond))
		return OutcomeDeadlineExceeded, nil
	}

	steps, err := r.Steps.ListByRollout(ctx, id)
	if err != nil {
		return OutcomeWaiting, fmt.Errorf("load steps: %w", err)
	}
	var step *RolloutStep
	for i := range steps {
		if steps[i].State != StepStateCompleted {
			step = &steps[i]
			break
		}
	}
	if step == nil {
		rollout.Complete(now)
		if err := r.Rollouts.Update(ctx, rollout); err != nil {
			return OutcomeWaiting, fmt.Errorf("complete rollout: %w", err)
		}
		o.log().Info("rollout completed", zap.String("rollout", string(id)))
		return OutcomeCompleted, nil
	}

	switch step.State {
	case StepStatePending:
		return o.startStep(ctx, r, &rollout, step, now)
	case StepStateRunning:
		return o.observeStep(ctx, r, &rollout, step, now)
	case StepStateVerifying:
		return o.verifyStep(ctx, r, &rollout, step, now)
	case StepStateFailed:
		// A failed step with a still-running rollout should not occur
		// (both fail in one transaction); converge anyway.
		return o.failStep(ctx, r, &rollout, step, now, *stepError(step))
	default:
		return OutcomeWaiting, fmt.Errorf("step %d in unexpected state %q", step.Index, step.State)
	}
}

// startStep dispatches a pending step: a status row per node, the node's
// expected bundle pointed at the rollout's bundle, the step to running.
func (o *Orchestrator) startStep(ctx context.Context, r Repos, rollout *Rollout, step *RolloutStep, now time.Time) (TickOutcome, error) {
	for _, nodeID := range step.NodeIDs {
		status, err := r.Statuses.Get(ctx, rollout.ID, nodeID)
		switch {
		case err == nil:
			// Row already exists from an earlier dispatch attempt.
		case isNotFound(err):
			status = NodeBundleStatus{
				RolloutID: rollout.ID,
				NodeID:    nodeID,
				State:     NodeBundlePending,
			}
			status.Advance(NodeBundleStaging, now)
			if err := r.Statuses.Create(ctx, status); err != nil {
				return OutcomeWaiting, fmt.Errorf("create node status: %w", err)
			}
		default:
			return OutcomeWaiting, fmt.Errorf("load node status: %w", err)
		}

		node, err := r.Nodes.Get(ctx, nodeID)
		if err != nil {
			return OutcomeWaiting, fmt.Errorf("load node %s: %w", nodeID, err)
		}
		bundle := rollout.BundleID
		node.ExpectedBundleID = &bundle
		if err := r.Nodes.Update(ctx, node); err != nil {
			return OutcomeWaiting, fmt.Errorf("update node %s: %w", nodeID, err)
		}
	}

	step.State = StepStateRunning
	t := now
	step.StartedAt = &t
	if err := r.Steps.Update(ctx, *step); err != nil {
		return OutcomeWaiting, fmt.Errorf("start step: %w", err)
	}
	if rollout.StartedAt == nil {
		rollout.StartedAt = &t
		if err := r.Rollouts.Update(ctx, *rollout); err != nil {
			return OutcomeWaiting, fmt.Errorf("stamp rollout start: %w", err)
		}
	}
	o.log().Info("step started",
		zap.String("rollout", string(rollout.ID)),
		zap.Int("step", step.Index),
		zap.Int("nodes", len(step.NodeIDs)))
	return OutcomeStepStarted, nil
}

// observeStep watches a running step's node reports. Node progress is
// observed, never driven, here: nodes self-report staged/activated/failed
// asynchronously. A single failed node aborts the batch and the rollout.
func (o *Orchestrator) observeStep(ctx context.Context, r Repos, rollout *Rollout, step *RolloutStep, now time.Time) (TickOutcome, error) {
	active := 0
	for _, nodeID := range step.NodeIDs {
		status, err := r.Statuses.Get(ctx, rollout.ID, nodeID)
		if err != nil {
			return OutcomeWaiting, fmt.Errorf("load node status: %w", err)
		}
		switch status.State {
		case NodeBundleFailed:
			msg := status.Error
			if msg == "" {
				msg = status.Reason
			}
			return o.failStep(ctx, r, rollout, step, now, StateError{
				Reason:  ReasonNodeFailed,
				Message: msg,
				NodeID:  nodeID,
			})
		case NodeBundleActive:
			active++
		}
	}
	if active < len(step.NodeIDs) {
		return OutcomeWaiting, nil
	}

	step.State = StepStateVerifying
	if err := r.Steps.Update(ctx, *step); err != nil {
		return OutcomeWaiting, fmt.Errorf("move step to verifying: %w", err)
	}
	return OutcomeStepVerifying, nil
}

// verifyStep runs the health gate against the step's nodes. A passing gate
// completes the step; a failing gate pauses the rollout, leaving the step
// in verifying so a resume re-evaluates the same gate.
func (o *Orchestrator) verifyStep(ctx context.Context, r Repos, rollout *Rollout, step *RolloutStep, now time.Time) (TickOutcome, error) {
	nodes := make([]Node, 0, len(step.NodeIDs))
	for _, nodeID := range step.NodeIDs {
		node, err := r.Nodes.Get(ctx, nodeID)
		if err != nil {
			return OutcomeWaiting, fmt.Errorf("load node %s: %w", nodeID, err)
		}
		nodes = append(nodes, node)
	}
	endpoints, err := o.Endpoints.ListEnabled(ctx, rollout.ProjectID)
	if err != nil {
		return OutcomeWaiting, fmt.Errorf("load endpoints: %w", err)
	}

	result := o.Gate.Evaluate(ctx, nodes, rollout.HealthGates, endpoints)
	if result.Passed {
		step.State = StepStateCompleted
		t := now
		step.CompletedAt = &t
		if err := r.Steps.Update(ctx, *step); err != nil {
			return OutcomeWaiting, fmt.Errorf("complete step: %w", err)
		}
		o.log().Info("step completed",
			zap.String("rollout", string(rollout.ID)),
			zap.Int("step", step.Index))
		return OutcomeStepCompleted, nil
	}

	// Auto-pause, not fail: the rollout stays resumable.
	rollout.State = RolloutStatePaused
	rollout.Error = &StateError{Reason: ReasonHealthGateFailed, Message: result.Reason}
	if err := r.Rollouts.Update(ctx, *rollout); err != nil {
		return OutcomeWaiting, fmt.Errorf("pause rollout: %w", err)
	}
	o.log().Warn("health gate failed, rollout paused",
		zap.String("rollout", string(rollout.ID)),
		zap.Int("step", step.Index),
		zap.String("reason", result.Reason))
	return OutcomeGateFailed, nil
}

// failStep records a step failure and fails the rollout in the same
// transaction.
func (o *Orchestrator) failStep(ctx context.Context, r Repos, rollout *Rollout, step *RolloutStep, now time.Time, stateErr StateError) (TickOutcome, error) {
	t := now
	if step.State != StepStateFailed {
		step.State = StepStateFailed
		step.CompletedAt = &t
		step.Error = &stateErr
		if err := r.Steps.Update(ctx, *step); err != nil {
			return OutcomeWaiting, fmt.Errorf("fail step: %w", err)
		}
	}
	rollout.Fail(now, stateErr)
	if err := r.Rollouts.Update(ctx, *rollout); err != nil {
		return OutcomeWaiting, fmt.Errorf("fail rollout: %w", err)
	}
	o.log().Warn("step failed",
		zap.String("rollout", string(rollout.ID)),
		zap.Int("step", step.Index),
		zap.String("node", string(stateErr.NodeID)),
		zap.String("message", stateErr.Message))
	return OutcomeStepFailed, nil
}

func stepError(step *RolloutStep) *StateError {
	if step.Error != nil {
		return step.Error
	}
	return &StateError{Reason: ReasonNodeFailed, Message: "step previously failed"}
}
