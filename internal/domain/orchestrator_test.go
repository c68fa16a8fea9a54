package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// fixture wires an orchestrator over the in-memory store with a
// controllable clock.
type fixture struct {
	store *memStore
	orch  *domain.Orchestrator
	now   time.Time
}

func newFixture() *fixture {
	f := &fixture{store: newMemStore(), now: t0}
	f.orch = &domain.Orchestrator{
		Tx:        f.store,
		Endpoints: (*memEndpoints)(f.store),
		Gate:      &domain.HealthGateEvaluator{Prober: &scriptedProber{}, Now: func() time.Time { return f.now }},
		Now:       func() time.Time { return f.now },
	}
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// seedRollout creates a running rollout over the given nodes with the
// given batch size, with all nodes registered and healthy.
func (f *fixture) seedRollout(t *testing.T, nodeIDs []domain.NodeID, batchSize int, gates domain.HealthGateConfig) domain.Rollout {
	t.Helper()
	ctx := context.Background()
	r := f.store.repos()

	nodes := make([]domain.Node, len(nodeIDs))
	for i, id := range nodeIDs {
		n := healthyNode(id, f.now)
		n.ProjectID = "p1"
		n.LastSeenAt = f.now
		nodes[i] = n
		if err := r.Nodes.Create(ctx, n); err != nil {
			t.Fatalf("create node: %v", err)
		}
	}

	batches, err := domain.PlanSteps(nodes, domain.StrategyRolling, batchSize)
	if err != nil {
		t.Fatalf("PlanSteps: %v", err)
	}
	rollout := domain.Rollout{
		ID:                     "r1",
		ProjectID:              "p1",
		BundleID:               "b2",
		Selector:               domain.TargetSelector{Type: domain.SelectorAll},
		Strategy:               domain.StrategyRolling,
		BatchSize:              batchSize,
		ProgressDeadlineSecond: 3600,
		HealthGates:            gates,
		State:                  domain.RolloutStatePending,
		ApprovalState:          domain.ApprovalNotRequired,
	}
	if err := rollout.Start(f.now); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Rollouts.Create(ctx, rollout); err != nil {
		t.Fatalf("create rollout: %v", err)
	}
	if err := r.Steps.CreateAll(ctx, domain.NewSteps(rollout.ID, batches)); err != nil {
		t.Fatalf("create steps: %v", err)
	}
	return rollout
}

// reportActive drives every node of the given step to active, refreshing
// heartbeats so the gate sees live nodes.
func (f *fixture) reportActive(t *testing.T, rolloutID domain.RolloutID, nodeIDs []domain.NodeID) {
	t.Helper()
	ctx := context.Background()
	r := f.store.repos()
	for _, id := range nodeIDs {
		status, err := r.Statuses.Get(ctx, rolloutID, id)
		if err != nil {
			t.Fatalf("status for %s: %v", id, err)
		}
		if !status.Advance(domain.NodeBundleActive, f.now) {
			t.Fatalf("node %s cannot advance to active from %q", id, status.State)
		}
		if err := r.Statuses.Update(ctx, status); err != nil {
			t.Fatalf("update status: %v", err)
		}

		node, _ := r.Nodes.Get(ctx, id)
		node.ActiveBundleID = node.ExpectedBundleID
		node.LastSeenAt = f.now
		if err := r.Nodes.Update(ctx, node); err != nil {
			t.Fatalf("update node: %v", err)
		}
	}
}

func (f *fixture) mustTick(t *testing.T, id domain.RolloutID, want domain.TickOutcome) {
	t.Helper()
	got, err := f.orch.Tick(context.Background(), id)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got != want {
		t.Fatalf("Tick outcome = %q, want %q", got, want)
	}
}

func TestOrchestrator_FullRolloutLifecycle(t *testing.T) {
	f := newFixture()
	f.seedRollout(t, []domain.NodeID{"n1", "n2", "n3"}, 2, domain.HealthGateConfig{})

	// Step 0 dispatch.
	f.mustTick(t, "r1", domain.OutcomeStepStarted)

	// Nodes have expected bundle set and status rows in staging.
	ctx := context.Background()
	r := f.store.repos()
	for _, id := range []domain.NodeID{"n1", "n2"} {
		node, _ := r.Nodes.Get(ctx, id)
		if node.ExpectedBundleID == nil || *node.ExpectedBundleID != "b2" {
			t.Fatalf("node %s expected bundle = %v", id, node.ExpectedBundleID)
		}
		status, err := r.Statuses.Get(ctx, "r1", id)
		if err != nil || status.State != domain.NodeBundleStaging {
			t.Fatalf("node %s status = %v, %v", id, status.State, err)
		}
	}
	// Step 1's nodes must not be touched yet.
	if n3, _ := r.Nodes.Get(ctx, "n3"); n3.ExpectedBundleID != nil {
		t.Fatal("step 1 node dispatched before step 0 completed")
	}

	// Waiting on node reports.
	f.mustTick(t, "r1", domain.OutcomeWaiting)

	f.reportActive(t, "r1", []domain.NodeID{"n1", "n2"})
	f.mustTick(t, "r1", domain.OutcomeStepVerifying)
	f.mustTick(t, "r1", domain.OutcomeStepCompleted)

	// Step 1.
	f.mustTick(t, "r1", domain.OutcomeStepStarted)
	f.reportActive(t, "r1", []domain.NodeID{"n3"})
	f.mustTick(t, "r1", domain.OutcomeStepVerifying)
	f.mustTick(t, "r1", domain.OutcomeStepCompleted)

	// No steps left: complete.
	f.mustTick(t, "r1", domain.OutcomeCompleted)

	rollout, _ := r.Rollouts.Get(ctx, "r1")
	if rollout.State != domain.RolloutStateCompleted {
		t.Fatalf("rollout state = %q", rollout.State)
	}
	if rollout.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}

	// Ticking a terminal rollout is a no-op.
	completedAt := *rollout.CompletedAt
	f.advance(time.Hour)
	f.mustTick(t, "r1", domain.OutcomeNotRunning)
	rollout, _ = r.Rollouts.Get(ctx, "r1")
	if !rollout.CompletedAt.Equal(completedAt) {
		t.Error("CompletedAt mutated by tick on terminal rollout")
	}
}

func TestOrchestrator_TickNotRunningIsNoOp(t *testing.T) {
	f := newFixture()
	rollout := f.seedRollout(t, []domain.NodeID{"n1"}, 1, domain.HealthGateConfig{})

	ctx := context.Background()
	r := f.store.repos()
	if err := rollout.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := r.Rollouts.Update(ctx, rollout); err != nil {
		t.Fatalf("update: %v", err)
	}

	f.mustTick(t, "r1", domain.OutcomeNotRunning)

	steps, _ := r.Steps.ListByRollout(ctx, "r1")
	if steps[0].State != domain.StepStatePending {
		t.Errorf("step mutated by no-op tick: %q", steps[0].State)
	}
}

func TestOrchestrator_DeadlineExceeded(t *testing.T) {
	f := newFixture()
	rollout := f.seedRollout(t, []domain.NodeID{"n1"}, 1, domain.HealthGateConfig{})

	ctx := context.Background()
	r := f.store.repos()
	rollout.ProgressDeadlineSecond = 1
	if err := r.Rollouts.Update(ctx, rollout); err != nil {
		t.Fatalf("update: %v", err)
	}

	f.mustTick(t, "r1", domain.OutcomeStepStarted)

	// The node never reports active; the deadline elapses.
	f.advance(2 * time.Second)
	f.mustTick(t, "r1", domain.OutcomeDeadlineExceeded)

	got, _ := r.Rollouts.Get(ctx, "r1")
	if got.State != domain.RolloutStateFailed {
		t.Fatalf("state = %q, want failed", got.State)
	}
	if got.Error == nil || got.Error.Reason != domain.ReasonDeadlineExceeded {
		t.Fatalf("error = %+v, want deadline_exceeded", got.Error)
	}
}

func TestOrchestrator_NodeFailureFailsStepAndRollout(t *testing.T) {
	f := newFixture()
	f.seedRollout(t, []domain.NodeID{"n1", "n2"}, 2, domain.HealthGateConfig{})
	f.mustTick(t, "r1", domain.OutcomeStepStarted)

	ctx := context.Background()
	r := f.store.repos()
	status, _ := r.Statuses.Get(ctx, "r1", "n2")
	status.Error = "activation hook exited 1"
	status.Advance(domain.NodeBundleFailed, f.now)
	if err := r.Statuses.Update(ctx, status); err != nil {
		t.Fatalf("update status: %v", err)
	}

	f.mustTick(t, "r1", domain.OutcomeStepFailed)

	rollout, _ := r.Rollouts.Get(ctx, "r1")
	if rollout.State != domain.RolloutStateFailed {
		t.Fatalf("rollout state = %q", rollout.State)
	}
	if rollout.Error == nil || rollout.Error.NodeID != "n2" || rollout.Error.Reason != domain.ReasonNodeFailed {
		t.Fatalf("rollout error = %+v", rollout.Error)
	}
	steps, _ := r.Steps.ListByRollout(ctx, "r1")
	if steps[0].State != domain.StepStateFailed {
		t.Fatalf("step state = %q", steps[0].State)
	}
}

func TestOrchestrator_HealthGateFailureAutoPauses(t *testing.T) {
	f := newFixture()
	f.seedRollout(t, []domain.NodeID{"n1"}, 1, domain.HealthGateConfig{HeartbeatHealthy: boolp(true)})
	f.mustTick(t, "r1", domain.OutcomeStepStarted)
	f.reportActive(t, "r1", []domain.NodeID{"n1"})
	f.mustTick(t, "r1", domain.OutcomeStepVerifying)

	// Heartbeat goes stale before verification.
	f.advance(200 * time.Second)
	f.mustTick(t, "r1", domain.OutcomeGateFailed)

	ctx := context.Background()
	r := f.store.repos()
	rollout, _ := r.Rollouts.Get(ctx, "r1")
	if rollout.State != domain.RolloutStatePaused {
		t.Fatalf("rollout state = %q, want paused", rollout.State)
	}
	steps, _ := r.Steps.ListByRollout(ctx, "r1")
	if steps[0].State != domain.StepStateVerifying {
		t.Fatalf("step state = %q, want verifying (resume re-evaluates the gate)", steps[0].State)
	}

	// Resume with a fresh heartbeat: the same gate re-evaluates and passes.
	if err := rollout.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := r.Rollouts.Update(ctx, rollout); err != nil {
		t.Fatalf("update: %v", err)
	}
	node, _ := r.Nodes.Get(ctx, "n1")
	node.LastSeenAt = f.now
	if err := r.Nodes.Update(ctx, node); err != nil {
		t.Fatalf("update node: %v", err)
	}

	f.mustTick(t, "r1", domain.OutcomeStepCompleted)
	f.mustTick(t, "r1", domain.OutcomeCompleted)
}

func TestOrchestrator_StepsInStrictIndexOrder(t *testing.T) {
	f := newFixture()
	f.seedRollout(t, []domain.NodeID{"n1", "n2", "n3", "n4"}, 1, domain.HealthGateConfig{})

	ctx := context.Background()
	r := f.store.repos()
	order := []domain.NodeID{"n1", "n2", "n3", "n4"}
	for i, id := range order {
		f.mustTick(t, "r1", domain.OutcomeStepStarted)

		// Later steps must still be pending.
		steps, _ := r.Steps.ListByRollout(ctx, "r1")
		for j := i + 1; j < len(steps); j++ {
			if steps[j].State != domain.StepStatePending {
				t.Fatalf("step %d is %q while step %d is in flight", j, steps[j].State, i)
			}
		}

		f.reportActive(t, "r1", []domain.NodeID{id})
		f.mustTick(t, "r1", domain.OutcomeStepVerifying)
		f.mustTick(t, "r1", domain.OutcomeStepCompleted)
	}
	f.mustTick(t, "r1", domain.OutcomeCompleted)
}

func TestOrchestrator_StepStartedRepeatedDispatchIsIdempotent(t *testing.T) {
	f := newFixture()
	f.seedRollout(t, []domain.NodeID{"n1"}, 1, domain.HealthGateConfig{})
	f.mustTick(t, "r1", domain.OutcomeStepStarted)

	ctx := context.Background()
	r := f.store.repos()

	// Simulate a crash between dispatch and step update by resetting the
	// step to pending; the status row already exists.
	steps, _ := r.Steps.ListByRollout(ctx, "r1")
	steps[0].State = domain.StepStatePending
	if err := r.Steps.Update(ctx, steps[0]); err != nil {
		t.Fatalf("update step: %v", err)
	}

	f.mustTick(t, "r1", domain.OutcomeStepStarted)
	status, err := r.Statuses.Get(ctx, "r1", "n1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != domain.NodeBundleStaging {
		t.Fatalf("status = %q after re-dispatch", status.State)
	}
}
