package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Transition errors. A guarded rollout transition attempted from a state
// that does not allow it fails with exactly one of these; they are
// non-retryable for the current state.
var (
	ErrCannotStart    = errors.New("rollout cannot be started")
	ErrCannotPause    = errors.New("rollout cannot be paused")
	ErrCannotResume   = errors.New("rollout cannot be resumed")
	ErrCannotCancel   = errors.New("rollout cannot be cancelled")
	ErrCannotRollback = errors.New("rollout cannot be rolled back")

	// ErrApprovalRequired blocks a start while the approval state is
	// still pending_approval.
	ErrApprovalRequired = errors.New("rollout requires approval")

	// ErrApprovalRejected blocks a start permanently once the rollout
	// has been rejected.
	ErrApprovalRejected = errors.New("rollout approval was rejected")
)

// Bundle gate errors, raised at rollout creation.
var (
	ErrBundleNotCompiled = errors.New("bundle is not compiled")
	ErrBundleRevoked     = errors.New("bundle is revoked")
)

// ErrAlreadyResolved indicates a resolve call on a drift event whose
// resolved_at is already set.
var ErrAlreadyResolved = errors.New("drift event already resolved")

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
