// Package application wires the domain state machines to repositories,
// the tick driver, and background jobs. Services are thin: validation,
// transaction boundaries, and dispatch; the state machines live in domain.
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// CreateRolloutInput is the caller-provided input for creating a rollout.
type CreateRolloutInput struct {
	ID        domain.RolloutID // optional, generated when empty
	ProjectID domain.ProjectID
	BundleID  domain.BundleID

	Selector               domain.TargetSelector
	Strategy               domain.RolloutStrategy
	BatchSize              int
	MaxUnavailable         int
	ProgressDeadlineSecond int
	HealthGates            domain.HealthGateConfig

	RequireApproval   bool
	RequiredApprovals int
	ScheduledAt       *time.Time

	CreatedBy string
}

// RolloutService manages the rollout lifecycle: creation with full
// validation and planning, the operator verbs, approvals, and the progress
// read model. Every state transition persists through the TxRunner.
type RolloutService struct {
	Tx      domain.TxRunner
	Bundles domain.BundleRepository
	Events  domain.DriftEventRepository
	Driver  domain.TickDriver

	NewID func() string
	Now   func() time.Time
	Log   *zap.Logger
}

func (s *RolloutService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *RolloutService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RolloutService) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// Create validates the input, resolves targets, plans the step sequence,
// and persists the rollout with its steps in one transaction. The rollout
// is always created pending; Start (or the schedule promoter) is the only
// way into running.
func (s *RolloutService) Create(ctx context.Context, in CreateRolloutInput) (domain.Rollout, error) {
	var rollout domain.Rollout

	if in.ProjectID == "" {
		return rollout, fmt.Errorf("%w: project ID is required", domain.ErrInvalidArgument)
	}
	if in.BundleID == "" {
		return rollout, fmt.Errorf("%w: bundle ID is required", domain.ErrInvalidArgument)
	}
	switch in.Strategy {
	case domain.StrategyRolling, domain.StrategyAllAtOnce:
	default:
		return rollout, fmt.Errorf("%w: unsupported rollout strategy %q", domain.ErrInvalidArgument, in.Strategy)
	}
	if in.BatchSize <= 0 {
		return rollout, fmt.Errorf("%w: batch size must be positive", domain.ErrInvalidArgument)
	}
	if in.MaxUnavailable < 0 {
		return rollout, fmt.Errorf("%w: max unavailable must not be negative", domain.ErrInvalidArgument)
	}
	if in.ProgressDeadlineSecond <= 0 {
		return rollout, fmt.Errorf("%w: progress deadline must be positive", domain.ErrInvalidArgument)
	}
	if in.RequireApproval && in.RequiredApprovals <= 0 {
		return rollout, fmt.Errorf("%w: required approvals must be positive", domain.ErrInvalidArgument)
	}
	now := s.now()
	if in.ScheduledAt != nil && !in.ScheduledAt.After(now) {
		return rollout, fmt.Errorf("%w: scheduled_at must be in the future", domain.ErrInvalidArgument)
	}

	bundle, err := s.Bundles.Get(ctx, in.BundleID)
	if err != nil {
		return rollout, fmt.Errorf("load bundle: %w", err)
	}
	if bundle.ProjectID != in.ProjectID {
		return rollout, fmt.Errorf("%w: bundle %q belongs to another project", domain.ErrInvalidArgument, in.BundleID)
	}
	if err := bundle.Deployable(); err != nil {
		return rollout, err
	}

	id := in.ID
	if id == "" {
		id = domain.RolloutID(s.newID())
	}

	approval := domain.ApprovalNotRequired
	if in.RequireApproval {
		approval = domain.ApprovalPendingApproval
	}

	rollout = domain.Rollout{
		ID:                     id,
		ProjectID:              in.ProjectID,
		BundleID:               in.BundleID,
		Selector:               in.Selector,
		Strategy:               in.Strategy,
		BatchSize:              in.BatchSize,
		MaxUnavailable:         in.MaxUnavailable,
		ProgressDeadlineSecond: in.ProgressDeadlineSecond,
		HealthGates:            in.HealthGates,
		State:                  domain.RolloutStatePending,
		ApprovalState:          approval,
		RequiredApprovals:      in.RequiredApprovals,
		ScheduledAt:            in.ScheduledAt,
		CreatedBy:              in.CreatedBy,
		CreatedAt:              now,
	}

	err = s.Tx.InTx(ctx, func(r domain.Repos) error {
		pool, err := r.Nodes.ListByProject(ctx, in.ProjectID)
		if err != nil {
			return fmt.Errorf("load node pool: %w", err)
		}
		targets, err := domain.ResolveTargets(in.Selector, pool)
		if err != nil {
			return err
		}
		batches, err := domain.PlanSteps(targets, in.Strategy, in.BatchSize)
		if err != nil {
			return err
		}
		if err := r.Rollouts.Create(ctx, rollout); err != nil {
			return err
		}
		return r.Steps.CreateAll(ctx, domain.NewSteps(rollout.ID, batches))
	})
	if err != nil {
		return domain.Rollout{}, err
	}

	s.log().Info("rollout created",
		zap.String("rollout", string(rollout.ID)),
		zap.String("project", string(rollout.ProjectID)),
		zap.String("bundle", string(rollout.BundleID)))
	return rollout, nil
}

// Start transitions the rollout to running and begins ticking. Open drift
// events on the rollout's target nodes are resolved: the rollout is now the
// authoritative corrective action.
func (s *RolloutService) Start(ctx context.Context, id domain.RolloutID) error {
	var nodeIDs []domain.NodeID
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		rollout, err := r.Rollouts.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := rollout.Start(s.now()); err != nil {
			return err
		}
		steps, err := r.Steps.ListByRollout(ctx, id)
		if err != nil {
			return fmt.Errorf("load steps: %w", err)
		}
		for _, step := range steps {
			nodeIDs = append(nodeIDs, step.NodeIDs...)
		}
		return r.Rollouts.Update(ctx, rollout)
	})
	if err != nil {
		return err
	}

	s.resolveDrift(ctx, nodeIDs, domain.ResolutionRolloutStarted)
	s.log().Info("rollout started", zap.String("rollout", string(id)))
	return s.Driver.StartTicking(ctx, id)
}

// resolveDrift closes open drift events for the given nodes. Best effort:
// a failure here never blocks the rollout verb that triggered it.
func (s *RolloutService) resolveDrift(ctx context.Context, nodes []domain.NodeID, resolution domain.DriftResolution) {
	if s.Events == nil {
		return
	}
	for _, nodeID := range nodes {
		event, err := s.Events.GetUnresolvedByNode(ctx, nodeID)
		if err != nil {
			continue
		}
		if err := event.Resolve(resolution, s.now()); err != nil {
			continue
		}
		if err := s.Events.Update(ctx, event); err != nil {
			s.log().Warn("resolve drift event",
				zap.String("event", event.ID), zap.Error(err))
		}
	}
}

// Pause suspends ticking side effects. The tick loop may observe the pause
// on its next pass and stop; progress is preserved.
func (s *RolloutService) Pause(ctx context.Context, id domain.RolloutID) error {
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		rollout, err := r.Rollouts.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := rollout.Pause(); err != nil {
			return err
		}
		return r.Rollouts.Update(ctx, rollout)
	})
	if err != nil {
		return err
	}
	s.log().Info("rollout paused", zap.String("rollout", string(id)))
	return nil
}

// Resume returns a paused rollout to running and restarts ticking. A gate
// failure recorded at pause time is cleared; the verifying step re-evaluates
// the gate on the next tick.
func (s *RolloutService) Resume(ctx context.Context, id domain.RolloutID) error {
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		rollout, err := r.Rollouts.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := rollout.Resume(); err != nil {
			return err
		}
		rollout.Error = nil
		return r.Rollouts.Update(ctx, rollout)
	})
	if err != nil {
		return err
	}
	s.log().Info("rollout resumed", zap.String("rollout", string(id)))
	return s.Driver.StartTicking(ctx, id)
}

// Cancel terminates a pending, running, or paused rollout. Nodes keep
// whatever they have staged or activated.
func (s *RolloutService) Cancel(ctx context.Context, id domain.RolloutID) error {
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		rollout, err := r.Rollouts.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := rollout.Cancel(s.now()); err != nil {
			return err
		}
		return r.Rollouts.Update(ctx, rollout)
	})
	if err != nil {
		return err
	}
	s.log().Info("rollout cancelled", zap.String("rollout", string(id)))
	return nil
}

// Rollback cancels the rollout and clears the staged bundle on every node
// the rollout touched. Activated bundles stay: rollback stops propagation,
// it does not revert activation.
func (s *RolloutService) Rollback(ctx context.Context, id domain.RolloutID) error {
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		rollout, err := r.Rollouts.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := rollout.Rollback(s.now()); err != nil {
			return err
		}
		steps, err := r.Steps.ListByRollout(ctx, id)
		if err != nil {
			return fmt.Errorf("load steps: %w", err)
		}
		for _, step := range steps {
			for _, nodeID := range step.NodeIDs {
				node, err := r.Nodes.Get(ctx, nodeID)
				if err != nil {
					return fmt.Errorf("load node %s: %w", nodeID, err)
				}
				if node.StagedBundleID == nil {
					continue
				}
				node.StagedBundleID = nil
				if err := r.Nodes.Update(ctx, node); err != nil {
					return fmt.Errorf("update node %s: %w", nodeID, err)
				}
			}
		}
		return r.Rollouts.Update(ctx, rollout)
	})
	if err != nil {
		return err
	}
	s.log().Info("rollout rolled back", zap.String("rollout", string(id)))
	return nil
}

// Approve records one approval for the rollout. The approval state flips to
// approved once the distinct approver count reaches the requirement; the
// rollout still needs an explicit Start (or its schedule) to run.
func (s *RolloutService) Approve(ctx context.Context, id domain.RolloutID, user string) error {
	if user == "" {
		return fmt.Errorf("%w: approver is required", domain.ErrInvalidArgument)
	}
	return s.Tx.InTx(ctx, func(r domain.Repos) error {
		rollout, err := r.Rollouts.Get(ctx, id)
		if err != nil {
			return err
		}
		if rollout.ApprovalState != domain.ApprovalPendingApproval {
			return fmt.Errorf("%w: rollout approval state is %q", domain.ErrInvalidArgument, rollout.ApprovalState)
		}
		err = r.Approvals.Create(ctx, domain.RolloutApproval{
			RolloutID:  id,
			User:       user,
			ApprovedAt: s.now(),
		})
		if err != nil {
			return err
		}
		count, err := r.Approvals.CountByRollout(ctx, id)
		if err != nil {
			return err
		}
		rollout.RecordApprovals(count)
		return r.Rollouts.Update(ctx, rollout)
	})
}

// Reject permanently refuses the rollout's approval.
func (s *RolloutService) Reject(ctx context.Context, id domain.RolloutID, user string) error {
	return s.Tx.InTx(ctx, func(r domain.Repos) error {
		rollout, err := r.Rollouts.Get(ctx, id)
		if err != nil {
			return err
		}
		if rollout.ApprovalState != domain.ApprovalPendingApproval {
			return fmt.Errorf("%w: rollout approval state is %q", domain.ErrInvalidArgument, rollout.ApprovalState)
		}
		rollout.ApprovalState = domain.ApprovalRejected
		s.log().Info("rollout rejected",
			zap.String("rollout", string(id)), zap.String("user", user))
		return r.Rollouts.Update(ctx, rollout)
	})
}

// Get returns one rollout.
func (s *RolloutService) Get(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	var rollout domain.Rollout
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		var err error
		rollout, err = r.Rollouts.Get(ctx, id)
		return err
	})
	return rollout, err
}

// List returns the project's rollouts.
func (s *RolloutService) List(ctx context.Context, project domain.ProjectID) ([]domain.Rollout, error) {
	var rollouts []domain.Rollout
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		var err error
		rollouts, err = r.Rollouts.ListByProject(ctx, project)
		return err
	})
	return rollouts, err
}

// StepProgress is the per-step slice of the progress read model.
type StepProgress struct {
	Index   int
	State   domain.StepState
	Total   int
	ByState map[domain.NodeBundleState]int
}

// Progress is a point-in-time view of a rollout's advancement.
type Progress struct {
	Rollout     domain.Rollout
	Steps       []StepProgress
	TotalNodes  int
	ActiveNodes int
	FailedNodes int
}

// Progress assembles the read model from the rollout, its steps, and its
// node-bundle-status rows.
func (s *RolloutService) Progress(ctx context.Context, id domain.RolloutID) (Progress, error) {
	var p Progress
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		rollout, err := r.Rollouts.Get(ctx, id)
		if err != nil {
			return err
		}
		steps, err := r.Steps.ListByRollout(ctx, id)
		if err != nil {
			return fmt.Errorf("load steps: %w", err)
		}
		statuses, err := r.Statuses.ListByRollout(ctx, id)
		if err != nil {
			return fmt.Errorf("load statuses: %w", err)
		}

		byNode := make(map[domain.NodeID]domain.NodeBundleState, len(statuses))
		for _, st := range statuses {
			byNode[st.NodeID] = st.State
			switch st.State {
			case domain.NodeBundleActive:
				p.ActiveNodes++
			case domain.NodeBundleFailed:
				p.FailedNodes++
			}
		}

		p.Rollout = rollout
		for _, step := range steps {
			sp := StepProgress{
				Index:   step.Index,
				State:   step.State,
				Total:   len(step.NodeIDs),
				ByState: map[domain.NodeBundleState]int{},
			}
			for _, nodeID := range step.NodeIDs {
				if state, ok := byNode[nodeID]; ok {
					sp.ByState[state]++
				} else {
					sp.ByState[domain.NodeBundlePending]++
				}
			}
			p.TotalNodes += sp.Total
			p.Steps = append(p.Steps, sp)
		}
		return nil
	})
	if err != nil {
		return Progress{}, err
	}
	return p, nil
}

// ResumeTicking restarts the tick loop for every running rollout. Called
// once at startup so rollouts in flight at the last shutdown keep moving.
func (s *RolloutService) ResumeTicking(ctx context.Context) (int, error) {
	var running []domain.Rollout
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		var err error
		running, err = r.Rollouts.ListByState(ctx, domain.RolloutStateRunning)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, rollout := range running {
		if err := s.Driver.StartTicking(ctx, rollout.ID); err != nil {
			return 0, fmt.Errorf("resume rollout %q: %w", rollout.ID, err)
		}
	}
	if n := len(running); n > 0 {
		s.log().Info("resumed ticking", zap.Int("rollouts", n))
	}
	return len(running), nil
}
