package domain

import (
	"fmt"
	"time"
)

// RolloutID identifies a rollout.
type RolloutID string

// RolloutState is the lifecycle state of a rollout.
type RolloutState string

const (
	RolloutStatePending   RolloutState = "pending"
	RolloutStateRunning   RolloutState = "running"
	RolloutStatePaused    RolloutState = "paused"
	RolloutStateCompleted RolloutState = "completed"
	RolloutStateCancelled RolloutState = "cancelled"
	RolloutStateFailed    RolloutState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s RolloutState) Terminal() bool {
	switch s {
	case RolloutStateCompleted, RolloutStateCancelled, RolloutStateFailed:
		return true
	}
	return false
}

// ApprovalState gates whether a rollout may begin progressing.
type ApprovalState string

const (
	ApprovalNotRequired     ApprovalState = "not_required"
	ApprovalPendingApproval ApprovalState = "pending_approval"
	ApprovalApproved        ApprovalState = "approved"
	ApprovalRejected        ApprovalState = "rejected"
)

// RolloutStrategy determines the pacing of delivery across batches.
type RolloutStrategy string

const (
	StrategyRolling   RolloutStrategy = "rolling"
	StrategyAllAtOnce RolloutStrategy = "all_at_once"
)

// StateError is the structured error payload recorded on a rollout or step
// when progress fails. Reason is a stable machine-readable tag; Message and
// NodeID carry diagnostics.
type StateError struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
	NodeID  NodeID `json:"node_id,omitempty"`
}

// Failure reason tags recorded in [StateError.Reason].
const (
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonNodeFailed       = "node_failed"
	ReasonHealthGateFailed = "health_gate_failed"
)

// Rollout is a deployment intent and its progress ledger: one bundle, a
// target selector, a strategy, and the gates that pace it.
type Rollout struct {
	ID        RolloutID
	ProjectID ProjectID
	BundleID  BundleID

	Selector               TargetSelector
	Strategy               RolloutStrategy
	BatchSize              int
	MaxUnavailable         int // advisory; tick logic is fail-fast
	ProgressDeadlineSecond int
	HealthGates            HealthGateConfig

	State             RolloutState
	ApprovalState     ApprovalState
	RequiredApprovals int
	ScheduledAt       *time.Time

	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *StateError

	CreatedBy string
	CreatedAt time.Time
}

// approvalSatisfied reports whether the approval gate permits progressing.
func (r *Rollout) approvalSatisfied() bool {
	return r.ApprovalState == ApprovalNotRequired || r.ApprovalState == ApprovalApproved
}

// Start transitions pending → running, enforcing the approval gate.
// StartedAt is set exactly once, on the first entry into running.
func (r *Rollout) Start(now time.Time) error {
	if r.State != RolloutStatePending {
		return fmt.Errorf("%w: state is %q", ErrCannotStart, r.State)
	}
	switch r.ApprovalState {
	case ApprovalRejected:
		return ErrApprovalRejected
	case ApprovalPendingApproval:
		return ErrApprovalRequired
	}
	r.State = RolloutStateRunning
	if r.StartedAt == nil {
		t := now
		r.StartedAt = &t
	}
	return nil
}

// Pause transitions running → paused.
func (r *Rollout) Pause() error {
	if r.State != RolloutStateRunning {
		return fmt.Errorf("%w: state is %q", ErrCannotPause, r.State)
	}
	r.State = RolloutStatePaused
	return nil
}

// Resume transitions paused → running. Progress is preserved: steps and
// node statuses are untouched, the next tick picks up where the rollout
// left off.
func (r *Rollout) Resume() error {
	if r.State != RolloutStatePaused {
		return fmt.Errorf("%w: state is %q", ErrCannotResume, r.State)
	}
	r.State = RolloutStateRunning
	return nil
}

// Cancel transitions pending/running/paused → cancelled.
func (r *Rollout) Cancel(now time.Time) error {
	switch r.State {
	case RolloutStatePending, RolloutStateRunning, RolloutStatePaused:
	default:
		return fmt.Errorf("%w: state is %q", ErrCannotCancel, r.State)
	}
	r.finish(RolloutStateCancelled, now)
	return nil
}

// Rollback transitions any non-terminal state → cancelled. The caller is
// responsible for clearing staged bundles on the rollout's nodes.
func (r *Rollout) Rollback(now time.Time) error {
	if r.State.Terminal() {
		return fmt.Errorf("%w: state is %q", ErrCannotRollback, r.State)
	}
	r.finish(RolloutStateCancelled, now)
	return nil
}

// Complete transitions running → completed. Called by the orchestrator
// once every step is completed.
func (r *Rollout) Complete(now time.Time) {
	r.finish(RolloutStateCompleted, now)
}

// Fail transitions the rollout to failed with the given structured error.
func (r *Rollout) Fail(now time.Time, stateErr StateError) {
	r.Error = &stateErr
	r.finish(RolloutStateFailed, now)
}

// finish enters a terminal state. CompletedAt is set exactly once.
func (r *Rollout) finish(state RolloutState, now time.Time) {
	r.State = state
	if r.CompletedAt == nil {
		t := now
		r.CompletedAt = &t
	}
}

// RecordApprovals recomputes the approval state from the number of distinct
// approvers. A rejected rollout stays rejected.
func (r *Rollout) RecordApprovals(distinct int) {
	if r.ApprovalState == ApprovalRejected || r.ApprovalState == ApprovalNotRequired {
		return
	}
	if distinct >= r.RequiredApprovals {
		r.ApprovalState = ApprovalApproved
	}
}

// RolloutApproval is one (rollout, user) approval record, unique per pair.
type RolloutApproval struct {
	RolloutID  RolloutID
	User       string
	ApprovedAt time.Time
}
