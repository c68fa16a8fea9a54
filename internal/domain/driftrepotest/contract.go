// Package driftrepotest provides contract tests for
// [domain.DriftEventRepository] implementations.
package driftrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// Factory creates a fresh [domain.DriftEventRepository] for each test.
type Factory func(t *testing.T) domain.DriftEventRepository

// Run exercises the [domain.DriftEventRepository] contract.
func Run(t *testing.T, factory Factory) {
	detected := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	actual := domain.BundleID("b-old")

	sample := func(id string, node domain.NodeID) domain.DriftEvent {
		return domain.DriftEvent{
			ID:               id,
			ProjectID:        "p1",
			NodeID:           node,
			ExpectedBundleID: "b-new",
			ActualBundleID:   &actual,
			DetectedAt:       detected,
			Severity:         domain.DriftWarning,
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		if err := repo.Create(ctx, sample("e1", "n1")); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "e1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ExpectedBundleID != "b-new" {
			t.Errorf("ExpectedBundleID = %q", got.ExpectedBundleID)
		}
		if got.ActualBundleID == nil || *got.ActualBundleID != "b-old" {
			t.Errorf("ActualBundleID = %v, want b-old", got.ActualBundleID)
		}
		if got.Resolved() {
			t.Error("fresh event reports resolved")
		}
	})

	t.Run("NullActualBundle", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		event := sample("e1", "n1")
		event.ActualBundleID = nil
		event.Severity = domain.DriftCritical
		if err := repo.Create(ctx, event); err != nil {
			t.Fatal(err)
		}

		got, _ := repo.Get(ctx, "e1")
		if got.ActualBundleID != nil {
			t.Errorf("ActualBundleID = %v, want nil", got.ActualBundleID)
		}
		if got.Severity != domain.DriftCritical {
			t.Errorf("Severity = %q, want critical", got.Severity)
		}
	})

	t.Run("GetUnresolvedByNode", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		resolved := sample("e1", "n1")
		if err := resolved.Resolve(domain.ResolutionManual, detected.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		if err := repo.Create(ctx, resolved); err != nil {
			t.Fatal(err)
		}

		// Only an unresolved event counts.
		_, err := repo.GetUnresolvedByNode(ctx, "n1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetUnresolvedByNode: got %v, want ErrNotFound", err)
		}

		if err := repo.Create(ctx, sample("e2", "n1")); err != nil {
			t.Fatal(err)
		}
		got, err := repo.GetUnresolvedByNode(ctx, "n1")
		if err != nil {
			t.Fatalf("GetUnresolvedByNode: %v", err)
		}
		if got.ID != "e2" {
			t.Errorf("ID = %q, want e2", got.ID)
		}
	})

	t.Run("UpdatePersistsResolution", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		event := sample("e1", "n1")
		if err := repo.Create(ctx, event); err != nil {
			t.Fatal(err)
		}

		if err := event.Resolve(domain.ResolutionRolloutStarted, detected.Add(time.Minute)); err != nil {
			t.Fatal(err)
		}
		if err := repo.Update(ctx, event); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repo.Get(ctx, "e1")
		if !got.Resolved() || got.Resolution != domain.ResolutionRolloutStarted {
			t.Errorf("event = %+v, want rollout_started resolution", got)
		}
	})

	t.Run("ListByProjectUnresolvedOnly", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		open := sample("e1", "n1")
		closed := sample("e2", "n2")
		if err := closed.Resolve(domain.ResolutionAutoCorrected, detected.Add(time.Minute)); err != nil {
			t.Fatal(err)
		}
		other := sample("e3", "n3")
		other.ProjectID = "p2"
		for _, e := range []domain.DriftEvent{open, closed, other} {
			if err := repo.Create(ctx, e); err != nil {
				t.Fatal(err)
			}
		}

		all, err := repo.ListByProject(ctx, "p1", false)
		if err != nil {
			t.Fatalf("ListByProject: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("all = %d, want 2", len(all))
		}

		unresolved, err := repo.ListByProject(ctx, "p1", true)
		if err != nil {
			t.Fatalf("ListByProject unresolved: %v", err)
		}
		if len(unresolved) != 1 || unresolved[0].ID != "e1" {
			t.Fatalf("unresolved = %v, want only e1", unresolved)
		}
	})
}
