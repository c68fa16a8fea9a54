package domain

import "time"

// DriftSeverity grades a drift event.
type DriftSeverity string

const (
	// DriftWarning: the node runs a different bundle than declared.
	DriftWarning DriftSeverity = "warning"
	// DriftCritical: the node has nothing activated at all.
	DriftCritical DriftSeverity = "critical"
)

// DriftResolution tags how a drift event was closed.
type DriftResolution string

const (
	ResolutionAutoCorrected    DriftResolution = "auto_corrected"
	ResolutionManual           DriftResolution = "manual"
	ResolutionRolloutStarted   DriftResolution = "rollout_started"
	ResolutionRolloutCompleted DriftResolution = "rollout_completed"
)

// DriftEvent records a divergence between a node's declared and observed
// bundle. At most one unresolved event exists per node; the detector, not
// the schema, enforces that.
type DriftEvent struct {
	ID        string
	ProjectID ProjectID
	NodeID    NodeID

	ExpectedBundleID BundleID
	ActualBundleID   *BundleID
	DetectedAt       time.Time
	Severity         DriftSeverity

	ResolvedAt *time.Time
	Resolution DriftResolution
}

// Resolved reports whether the event is closed.
func (e DriftEvent) Resolved() bool { return e.ResolvedAt != nil }

// Resolve closes the event. A second resolve fails with
// [ErrAlreadyResolved].
func (e *DriftEvent) Resolve(resolution DriftResolution, now time.Time) error {
	if e.Resolved() {
		return ErrAlreadyResolved
	}
	t := now
	e.ResolvedAt = &t
	e.Resolution = resolution
	return nil
}

// NewDriftEvent builds an event for a drifted node. Severity is critical
// when nothing is activated, warning on a version mismatch.
func NewDriftEvent(id string, node Node, now time.Time) DriftEvent {
	severity := DriftWarning
	if node.ActiveBundleID == nil {
		severity = DriftCritical
	}
	return DriftEvent{
		ID:               id,
		ProjectID:        node.ProjectID,
		NodeID:           node.ID,
		ExpectedBundleID: *node.ExpectedBundleID,
		ActualBundleID:   node.ActiveBundleID,
		DetectedAt:       now,
		Severity:         severity,
	}
}
