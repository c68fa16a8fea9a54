package domain

import "time"

// NodeID identifies a proxy agent in the fleet.
type NodeID string

// ProjectID scopes nodes, bundles, rollouts, and drift events.
type ProjectID string

// NodeStatus is the liveness state derived from heartbeat ingestion.
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusOffline NodeStatus = "offline"
	NodeStatusUnknown NodeStatus = "unknown"
)

// NodeMetrics carries the most recent heartbeat's reported metrics. Each
// field is optional; a missing metric fails any health-gate threshold that
// needs it (fail-closed).
type NodeMetrics struct {
	ErrorRate     *float64
	LatencyMS     *float64
	CPUPercent    *float64
	MemoryPercent *float64
}

// Node describes a registered fleet node. It is the full state the control
// plane knows: stored in the node repository, consulted by planning, health
// gating, and drift detection, and exposed via API. The orchestrator writes
// ExpectedBundleID; heartbeat and report ingestion update the rest.
type Node struct {
	ID           NodeID
	ProjectID    ProjectID
	Name         string
	Labels       map[string]string
	Capabilities []string

	Status     NodeStatus
	LastSeenAt time.Time
	Metrics    NodeMetrics

	ExpectedBundleID *BundleID
	ActiveBundleID   *BundleID
	StagedBundleID   *BundleID
}

// Drifted reports whether the node's observed bundle diverges from its
// declared one. A node with no expected bundle is unmanaged and never
// drifts; a managed node with nothing activated drifts.
func (n Node) Drifted() bool {
	if n.ExpectedBundleID == nil {
		return false
	}
	if n.ActiveBundleID == nil {
		return true
	}
	return *n.ActiveBundleID != *n.ExpectedBundleID
}
