package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// NodeService handles node registration, heartbeat ingestion, and the
// self-reported deployment progress calls.
type NodeService struct {
	Tx    domain.TxRunner
	Nodes domain.NodeRepository

	Now func() time.Time
	Log *zap.Logger
}

func (s *NodeService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *NodeService) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// Register adds a node to the fleet. Status starts unknown until the first
// heartbeat.
func (s *NodeService) Register(ctx context.Context, node domain.Node) error {
	if node.ID == "" {
		return fmt.Errorf("%w: node ID is required", domain.ErrInvalidArgument)
	}
	if node.ProjectID == "" {
		return fmt.Errorf("%w: project ID is required", domain.ErrInvalidArgument)
	}
	if node.Name == "" {
		return fmt.Errorf("%w: node name is required", domain.ErrInvalidArgument)
	}
	node.Status = domain.NodeStatusUnknown
	if err := s.Nodes.Create(ctx, node); err != nil {
		return err
	}
	s.log().Info("node registered",
		zap.String("node", string(node.ID)),
		zap.String("project", string(node.ProjectID)))
	return nil
}

// Heartbeat records a node's liveness and latest metrics.
func (s *NodeService) Heartbeat(ctx context.Context, id domain.NodeID, metrics domain.NodeMetrics) error {
	node, err := s.Nodes.Get(ctx, id)
	if err != nil {
		return err
	}
	node.Status = domain.NodeStatusOnline
	node.LastSeenAt = s.now()
	node.Metrics = metrics
	return s.Nodes.Update(ctx, node)
}

// Get returns one node.
func (s *NodeService) Get(ctx context.Context, id domain.NodeID) (domain.Node, error) {
	return s.Nodes.Get(ctx, id)
}

// List returns the project's nodes.
func (s *NodeService) List(ctx context.Context, project domain.ProjectID) ([]domain.Node, error) {
	return s.Nodes.ListByProject(ctx, project)
}

// Delete removes a node from the fleet.
func (s *NodeService) Delete(ctx context.Context, id domain.NodeID) error {
	return s.Nodes.Delete(ctx, id)
}

// ReportStaged records that the node downloaded and staged the rollout's
// bundle.
func (s *NodeService) ReportStaged(ctx context.Context, rolloutID domain.RolloutID, nodeID domain.NodeID) error {
	return s.report(ctx, rolloutID, nodeID, domain.NodeBundleStaged, "", func(node *domain.Node, bundle domain.BundleID) {
		b := bundle
		node.StagedBundleID = &b
	})
}

// ReportActivated records that the node activated the rollout's bundle:
// the staged bundle becomes the active one.
func (s *NodeService) ReportActivated(ctx context.Context, rolloutID domain.RolloutID, nodeID domain.NodeID) error {
	return s.report(ctx, rolloutID, nodeID, domain.NodeBundleActive, "", func(node *domain.Node, bundle domain.BundleID) {
		b := bundle
		node.ActiveBundleID = &b
		node.StagedBundleID = nil
	})
}

// ReportFailed records that the node could not stage or activate the
// bundle. The orchestrator fails the step on its next tick.
func (s *NodeService) ReportFailed(ctx context.Context, rolloutID domain.RolloutID, nodeID domain.NodeID, reason string) error {
	return s.report(ctx, rolloutID, nodeID, domain.NodeBundleFailed, reason, nil)
}

// report applies one node-reported transition to the status row and, when
// mutate is set, the node row, in one transaction.
func (s *NodeService) report(ctx context.Context, rolloutID domain.RolloutID, nodeID domain.NodeID,
	next domain.NodeBundleState, reason string, mutate func(*domain.Node, domain.BundleID)) error {
	err := s.Tx.InTx(ctx, func(r domain.Repos) error {
		status, err := r.Statuses.Get(ctx, rolloutID, nodeID)
		if err != nil {
			return err
		}
		if !status.Advance(next, s.now()) {
			return fmt.Errorf("%w: node %s cannot move from %q to %q",
				domain.ErrInvalidArgument, nodeID, status.State, next)
		}
		if reason != "" {
			status.Error = reason
		}
		if err := r.Statuses.Update(ctx, status); err != nil {
			return err
		}
		if mutate == nil {
			return nil
		}
		rollout, err := r.Rollouts.Get(ctx, rolloutID)
		if err != nil {
			return err
		}
		node, err := r.Nodes.Get(ctx, nodeID)
		if err != nil {
			return err
		}
		mutate(&node, rollout.BundleID)
		return r.Nodes.Update(ctx, node)
	})
	if err != nil {
		return err
	}
	s.log().Debug("node report",
		zap.String("rollout", string(rolloutID)),
		zap.String("node", string(nodeID)),
		zap.String("state", string(next)))
	return nil
}
