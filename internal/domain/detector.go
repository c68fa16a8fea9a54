package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SweepResult summarizes one drift detection pass.
type SweepResult struct {
	Detected int
	Resolved int
}

// DriftDetector reconciles declared vs. observed node state. It runs
// independently of the rollout engine: each sweep compares every managed
// node's expected and active bundle, opens events for new drift, and
// auto-resolves events whose node has converged. Detection is idempotent —
// at most one unresolved event per node.
type DriftDetector struct {
	Nodes  NodeRepository
	Events DriftEventRepository
	NewID  func() string
	Now    func() time.Time
	Log    *zap.Logger
}

func (d *DriftDetector) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

func (d *DriftDetector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *DriftDetector) log() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zap.NewNop()
}

// Sweep runs one detection pass over the project's managed nodes.
func (d *DriftDetector) Sweep(ctx context.Context, project ProjectID) (SweepResult, error) {
	var result SweepResult

	nodes, err := d.Nodes.ListManaged(ctx, project)
	if err != nil {
		return result, fmt.Errorf("list managed nodes: %w", err)
	}

	for _, node := range nodes {
		open, err := d.Events.GetUnresolvedByNode(ctx, node.ID)
		switch {
		case err == nil && !node.Drifted():
			// The node converged since the event was opened.
			if err := open.Resolve(ResolutionAutoCorrected, d.now()); err != nil {
				return result, err
			}
			if err := d.Events.Update(ctx, open); err != nil {
				return result, fmt.Errorf("resolve drift event: %w", err)
			}
			result.Resolved++
			d.log().Info("drift auto-corrected",
				zap.String("node", string(node.ID)),
				zap.String("event", open.ID))
		case err == nil:
			// Still drifted, event already open.
		case isNotFound(err) && node.Drifted():
			event := NewDriftEvent(d.newID(), node, d.now())
			if err := d.Events.Create(ctx, event); err != nil {
				return result, fmt.Errorf("create drift event: %w", err)
			}
			result.Detected++
			d.log().Warn("drift detected",
				zap.String("node", string(node.ID)),
				zap.String("expected", string(event.ExpectedBundleID)),
				zap.String("severity", string(event.Severity)))
		case isNotFound(err):
			// Not drifted, nothing open.
		default:
			return result, fmt.Errorf("load drift event for node %s: %w", node.ID, err)
		}
	}

	return result, nil
}
