package domain

import "time"

// StepState is the lifecycle state of one rollout batch.
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateRunning   StepState = "running"
	StepStateVerifying StepState = "verifying"
	StepStateCompleted StepState = "completed"
	StepStateFailed    StepState = "failed"
)

// RolloutStep is one ordered batch within a rollout. Membership is fixed at
// creation; only state and timestamps change afterwards.
type RolloutStep struct {
	RolloutID RolloutID
	Index     int
	NodeIDs   []NodeID

	State       StepState
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *StateError
}

// NodeBundleState is the per-(node, rollout) deployment progress machine:
// pending → staging → staged → activating → active, with failed reachable
// from any non-terminal state.
type NodeBundleState string

const (
	NodeBundlePending    NodeBundleState = "pending"
	NodeBundleStaging    NodeBundleState = "staging"
	NodeBundleStaged     NodeBundleState = "staged"
	NodeBundleActivating NodeBundleState = "activating"
	NodeBundleActive     NodeBundleState = "active"
	NodeBundleFailed     NodeBundleState = "failed"
)

var nodeBundleOrder = map[NodeBundleState]int{
	NodeBundlePending:    0,
	NodeBundleStaging:    1,
	NodeBundleStaged:     2,
	NodeBundleActivating: 3,
	NodeBundleActive:     4,
}

// Terminal reports whether the state admits no further transitions.
func (s NodeBundleState) Terminal() bool {
	return s == NodeBundleActive || s == NodeBundleFailed
}

// CanTransitionTo reports whether next is a legal transition. Progress is
// forward-only; nodes may skip intermediate states when they report late
// (a node that stages and activates between heartbeats reports only
// "activated").
func (s NodeBundleState) CanTransitionTo(next NodeBundleState) bool {
	if s.Terminal() {
		return false
	}
	if next == NodeBundleFailed {
		return true
	}
	from, ok := nodeBundleOrder[s]
	if !ok {
		return false
	}
	to, ok := nodeBundleOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// NodeBundleStatus is the deployment progress row for one (node, rollout)
// pair. One row per pair; the unique constraint lives in the store.
type NodeBundleStatus struct {
	RolloutID RolloutID
	NodeID    NodeID
	State     NodeBundleState

	StagedAt     *time.Time
	ActivatedAt  *time.Time
	VerifiedAt   *time.Time
	LastReportAt *time.Time

	Reason string
	Error  string
}

// Advance applies a legal transition, stamping the state-entry timestamps:
// StagedAt on staged, ActivatedAt and VerifiedAt on active, LastReportAt on
// every transition.
func (s *NodeBundleStatus) Advance(next NodeBundleState, now time.Time) bool {
	if !s.State.CanTransitionTo(next) {
		return false
	}
	s.State = next
	t := now
	s.LastReportAt = &t
	switch next {
	case NodeBundleStaged:
		s.StagedAt = &t
	case NodeBundleActive:
		s.ActivatedAt = &t
		s.VerifiedAt = &t
	}
	return true
}
