package domain

import "time"

// BundleID identifies an immutable configuration artifact.
type BundleID string

// BundleStatus is the compiler-owned lifecycle state of a bundle. The
// orchestrator only reads it: rollout creation requires "compiled".
type BundleStatus string

const (
	BundleStatusPending  BundleStatus = "pending"
	BundleStatusCompiled BundleStatus = "compiled"
	BundleStatusRevoked  BundleStatus = "revoked"
)

// Bundle is the orchestrator's view of a compiled artifact. The compiler
// produces and owns it; this side treats it as an opaque reference plus
// the status gate.
type Bundle struct {
	ID        BundleID
	ProjectID ProjectID
	Name      string
	Status    BundleStatus
	CreatedAt time.Time
}

// Deployable returns nil when a rollout may reference the bundle.
func (b Bundle) Deployable() error {
	switch b.Status {
	case BundleStatusCompiled:
		return nil
	case BundleStatusRevoked:
		return ErrBundleRevoked
	default:
		return ErrBundleNotCompiled
	}
}
