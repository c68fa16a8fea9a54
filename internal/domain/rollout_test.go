package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestRollout_StartSetsStartedAtOnce(t *testing.T) {
	r := domain.Rollout{State: domain.RolloutStatePending, ApprovalState: domain.ApprovalNotRequired}
	if err := r.Start(t0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.State != domain.RolloutStateRunning {
		t.Fatalf("state = %q, want running", r.State)
	}
	if r.StartedAt == nil || !r.StartedAt.Equal(t0) {
		t.Fatalf("StartedAt = %v, want %v", r.StartedAt, t0)
	}

	// Pause, resume: StartedAt must not move.
	if err := r.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !r.StartedAt.Equal(t0) {
		t.Errorf("StartedAt moved to %v", r.StartedAt)
	}
}

func TestRollout_StartBlockedByApproval(t *testing.T) {
	r := domain.Rollout{State: domain.RolloutStatePending, ApprovalState: domain.ApprovalPendingApproval}
	if err := r.Start(t0); !errors.Is(err, domain.ErrApprovalRequired) {
		t.Fatalf("err = %v, want ErrApprovalRequired", err)
	}

	r.ApprovalState = domain.ApprovalRejected
	if err := r.Start(t0); !errors.Is(err, domain.ErrApprovalRejected) {
		t.Fatalf("err = %v, want ErrApprovalRejected", err)
	}

	r.ApprovalState = domain.ApprovalApproved
	if err := r.Start(t0); err != nil {
		t.Fatalf("Start after approval: %v", err)
	}
}

func TestRollout_GuardedTransitionRejections(t *testing.T) {
	pending := domain.Rollout{State: domain.RolloutStatePending}
	if err := pending.Pause(); !errors.Is(err, domain.ErrCannotPause) {
		t.Errorf("Pause from pending: err = %v, want ErrCannotPause", err)
	}
	if err := pending.Resume(); !errors.Is(err, domain.ErrCannotResume) {
		t.Errorf("Resume from pending: err = %v, want ErrCannotResume", err)
	}

	completed := domain.Rollout{State: domain.RolloutStateCompleted}
	if err := completed.Cancel(t0); !errors.Is(err, domain.ErrCannotCancel) {
		t.Errorf("Cancel from completed: err = %v, want ErrCannotCancel", err)
	}
	if err := completed.Rollback(t0); !errors.Is(err, domain.ErrCannotRollback) {
		t.Errorf("Rollback from completed: err = %v, want ErrCannotRollback", err)
	}

	running := domain.Rollout{State: domain.RolloutStateRunning}
	if err := running.Start(t0); !errors.Is(err, domain.ErrCannotStart) {
		t.Errorf("Start from running: err = %v, want ErrCannotStart", err)
	}
}

func TestRollout_CompletedAtSetExactlyOnce(t *testing.T) {
	r := domain.Rollout{State: domain.RolloutStateRunning}
	r.Complete(t0)
	if r.CompletedAt == nil || !r.CompletedAt.Equal(t0) {
		t.Fatalf("CompletedAt = %v, want %v", r.CompletedAt, t0)
	}

	later := t0.Add(time.Hour)
	r.Fail(later, domain.StateError{Reason: "x"})
	if !r.CompletedAt.Equal(t0) {
		t.Errorf("CompletedAt moved to %v after second terminal transition", r.CompletedAt)
	}
}

func TestRollout_RollbackFromAnyNonTerminal(t *testing.T) {
	for _, state := range []domain.RolloutState{
		domain.RolloutStatePending, domain.RolloutStateRunning, domain.RolloutStatePaused,
	} {
		r := domain.Rollout{State: state}
		if err := r.Rollback(t0); err != nil {
			t.Errorf("Rollback from %q: %v", state, err)
		}
		if r.State != domain.RolloutStateCancelled {
			t.Errorf("state after rollback from %q = %q", state, r.State)
		}
	}
}

func TestRollout_RecordApprovals(t *testing.T) {
	r := domain.Rollout{ApprovalState: domain.ApprovalPendingApproval, RequiredApprovals: 2}
	r.RecordApprovals(1)
	if r.ApprovalState != domain.ApprovalPendingApproval {
		t.Fatalf("state = %q after one of two approvals", r.ApprovalState)
	}
	r.RecordApprovals(2)
	if r.ApprovalState != domain.ApprovalApproved {
		t.Fatalf("state = %q after two approvals", r.ApprovalState)
	}

	rejected := domain.Rollout{ApprovalState: domain.ApprovalRejected, RequiredApprovals: 1}
	rejected.RecordApprovals(5)
	if rejected.ApprovalState != domain.ApprovalRejected {
		t.Fatalf("rejected rollout became %q", rejected.ApprovalState)
	}
}

func TestNodeBundleState_Machine(t *testing.T) {
	if !domain.NodeBundlePending.CanTransitionTo(domain.NodeBundleStaging) {
		t.Error("pending → staging must be legal")
	}
	if !domain.NodeBundleStaged.CanTransitionTo(domain.NodeBundleActive) {
		t.Error("staged → active must be legal (nodes may report late)")
	}
	if domain.NodeBundleActive.CanTransitionTo(domain.NodeBundleStaged) {
		t.Error("active is terminal")
	}
	if domain.NodeBundleFailed.CanTransitionTo(domain.NodeBundleStaging) {
		t.Error("failed is terminal")
	}
	if !domain.NodeBundleActivating.CanTransitionTo(domain.NodeBundleFailed) {
		t.Error("failed must be reachable from any non-terminal state")
	}
	if domain.NodeBundleStaged.CanTransitionTo(domain.NodeBundleStaging) {
		t.Error("progress is forward-only")
	}
}

func TestNodeBundleStatus_AdvanceStampsTimestamps(t *testing.T) {
	s := domain.NodeBundleStatus{State: domain.NodeBundlePending}
	if !s.Advance(domain.NodeBundleStaging, t0) {
		t.Fatal("Advance to staging refused")
	}
	if s.LastReportAt == nil || !s.LastReportAt.Equal(t0) {
		t.Fatalf("LastReportAt = %v", s.LastReportAt)
	}

	t1 := t0.Add(time.Minute)
	if !s.Advance(domain.NodeBundleStaged, t1) {
		t.Fatal("Advance to staged refused")
	}
	if s.StagedAt == nil || !s.StagedAt.Equal(t1) {
		t.Fatalf("StagedAt = %v", s.StagedAt)
	}

	t2 := t1.Add(time.Minute)
	if !s.Advance(domain.NodeBundleActive, t2) {
		t.Fatal("Advance to active refused")
	}
	if s.ActivatedAt == nil || !s.ActivatedAt.Equal(t2) {
		t.Fatalf("ActivatedAt = %v", s.ActivatedAt)
	}
	if s.VerifiedAt == nil || !s.VerifiedAt.Equal(t2) {
		t.Fatalf("VerifiedAt = %v", s.VerifiedAt)
	}

	if s.Advance(domain.NodeBundleFailed, t2) {
		t.Error("Advance out of active must be refused")
	}
}
