package domain

import "context"

// NodeRepository persists and retrieves fleet nodes.
type NodeRepository interface {
	Create(ctx context.Context, node Node) error
	Get(ctx context.Context, id NodeID) (Node, error)
	ListByProject(ctx context.Context, project ProjectID) ([]Node, error)
	// ListManaged returns the project's nodes with a non-null expected
	// bundle, the set the drift detector reconciles.
	ListManaged(ctx context.Context, project ProjectID) ([]Node, error)
	// Projects returns the distinct projects with at least one node, the
	// set a fleet-wide drift sweep iterates.
	Projects(ctx context.Context) ([]ProjectID, error)
	Update(ctx context.Context, node Node) error
	Delete(ctx context.Context, id NodeID) error
}

// BundleRepository is the read side of the compiler-owned bundle table.
// Create exists for the compiler's writer and for test seeding.
type BundleRepository interface {
	Create(ctx context.Context, bundle Bundle) error
	Get(ctx context.Context, id BundleID) (Bundle, error)
}

// RolloutRepository persists rollouts.
type RolloutRepository interface {
	Create(ctx context.Context, r Rollout) error
	Get(ctx context.Context, id RolloutID) (Rollout, error)
	ListByProject(ctx context.Context, project ProjectID) ([]Rollout, error)
	// ListByState returns every rollout in the given state, across
	// projects. The schedule promoter scans pending, startup recovery
	// scans running.
	ListByState(ctx context.Context, state RolloutState) ([]Rollout, error)
	Update(ctx context.Context, r Rollout) error
}

// StepRepository persists rollout steps.
type StepRepository interface {
	CreateAll(ctx context.Context, steps []RolloutStep) error
	// ListByRollout returns the rollout's steps ordered by index.
	ListByRollout(ctx context.Context, id RolloutID) ([]RolloutStep, error)
	Update(ctx context.Context, step RolloutStep) error
}

// NodeBundleStatusRepository persists per-(node, rollout) progress rows.
type NodeBundleStatusRepository interface {
	Create(ctx context.Context, status NodeBundleStatus) error
	Get(ctx context.Context, rollout RolloutID, node NodeID) (NodeBundleStatus, error)
	ListByRollout(ctx context.Context, rollout RolloutID) ([]NodeBundleStatus, error)
	Update(ctx context.Context, status NodeBundleStatus) error
}

// DriftEventRepository persists drift events.
type DriftEventRepository interface {
	Create(ctx context.Context, event DriftEvent) error
	Get(ctx context.Context, id string) (DriftEvent, error)
	// GetUnresolvedByNode returns the node's open event, or ErrNotFound.
	GetUnresolvedByNode(ctx context.Context, node NodeID) (DriftEvent, error)
	ListByProject(ctx context.Context, project ProjectID, unresolvedOnly bool) ([]DriftEvent, error)
	Update(ctx context.Context, event DriftEvent) error
}

// EndpointRepository persists health check endpoint definitions.
type EndpointRepository interface {
	Create(ctx context.Context, endpoint HealthCheckEndpoint) error
	Get(ctx context.Context, id string) (HealthCheckEndpoint, error)
	ListByProject(ctx context.Context, project ProjectID) ([]HealthCheckEndpoint, error)
	// ListEnabled returns the project's enabled endpoints in creation
	// order, the order the gate evaluates them in.
	ListEnabled(ctx context.Context, project ProjectID) ([]HealthCheckEndpoint, error)
	Update(ctx context.Context, endpoint HealthCheckEndpoint) error
	Delete(ctx context.Context, id string) error
}

// ApprovalRepository persists rollout approvals. Create fails with
// ErrAlreadyExists for a duplicate (rollout, user) pair.
type ApprovalRepository interface {
	Create(ctx context.Context, approval RolloutApproval) error
	CountByRollout(ctx context.Context, id RolloutID) (int, error)
	ListByRollout(ctx context.Context, id RolloutID) ([]RolloutApproval, error)
}

// TemplateRepository persists rollout templates.
type TemplateRepository interface {
	Create(ctx context.Context, template RolloutTemplate) error
	Get(ctx context.Context, id string) (RolloutTemplate, error)
	ListByProject(ctx context.Context, project ProjectID) ([]RolloutTemplate, error)
	Update(ctx context.Context, template RolloutTemplate) error
	Delete(ctx context.Context, id string) error
}

// Repos aggregates the repositories a transactional unit of work touches.
type Repos struct {
	Rollouts  RolloutRepository
	Steps     StepRepository
	Statuses  NodeBundleStatusRepository
	Nodes     NodeRepository
	Approvals ApprovalRepository
}

// TxRunner runs a unit of work inside one store transaction: every write
// in fn commits together or not at all. Tick side effects go through it so
// a transition is never half-persisted.
type TxRunner interface {
	InTx(ctx context.Context, fn func(Repos) error) error
}

// Ticker advances a rollout by one unit of progress.
type Ticker interface {
	Tick(ctx context.Context, id RolloutID) (TickOutcome, error)
}

// TickDriver owns the per-rollout tick cadence. StartTicking begins (or
// resumes) the recurring tick loop for a rollout; a second call for a
// rollout that is already ticking is dropped, not queued. Implementations
// stop the loop once an outcome reports StopsTicking.
type TickDriver interface {
	StartTicking(ctx context.Context, id RolloutID) error
}
