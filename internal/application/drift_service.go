package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// DriftService exposes drift detection sweeps and event resolution.
type DriftService struct {
	Detector *domain.DriftDetector
	Events   domain.DriftEventRepository
	Nodes    domain.NodeRepository

	Now func() time.Time
	Log *zap.Logger
}

func (s *DriftService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *DriftService) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// Sweep runs one detection pass over a project.
func (s *DriftService) Sweep(ctx context.Context, project domain.ProjectID) (domain.SweepResult, error) {
	return s.Detector.Sweep(ctx, project)
}

// SweepAll sweeps every project with registered nodes. This is the
// background sweep job's entry point.
func (s *DriftService) SweepAll(ctx context.Context) (domain.SweepResult, error) {
	var total domain.SweepResult
	projects, err := s.Nodes.Projects(ctx)
	if err != nil {
		return total, fmt.Errorf("list projects: %w", err)
	}
	for _, project := range projects {
		result, err := s.Detector.Sweep(ctx, project)
		if err != nil {
			return total, fmt.Errorf("sweep project %q: %w", project, err)
		}
		total.Detected += result.Detected
		total.Resolved += result.Resolved
	}
	return total, nil
}

// Resolve manually closes one drift event.
func (s *DriftService) Resolve(ctx context.Context, id string) error {
	event, err := s.Events.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := event.Resolve(domain.ResolutionManual, s.now()); err != nil {
		return err
	}
	if err := s.Events.Update(ctx, event); err != nil {
		return err
	}
	s.log().Info("drift event resolved",
		zap.String("event", id), zap.String("node", string(event.NodeID)))
	return nil
}

// ResolveAll manually closes every open event in the project and returns
// how many were closed.
func (s *DriftService) ResolveAll(ctx context.Context, project domain.ProjectID) (int, error) {
	open, err := s.Events.ListByProject(ctx, project, true)
	if err != nil {
		return 0, err
	}
	for i, event := range open {
		if err := event.Resolve(domain.ResolutionManual, s.now()); err != nil {
			return i, err
		}
		if err := s.Events.Update(ctx, event); err != nil {
			return i, err
		}
	}
	return len(open), nil
}

// List returns the project's drift events, optionally only open ones.
func (s *DriftService) List(ctx context.Context, project domain.ProjectID, unresolvedOnly bool) ([]domain.DriftEvent, error) {
	return s.Events.ListByProject(ctx, project, unresolvedOnly)
}
