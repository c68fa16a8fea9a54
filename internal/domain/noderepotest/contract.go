// Package noderepotest provides contract tests for [domain.NodeRepository]
// implementations.
package noderepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// Factory creates a fresh [domain.NodeRepository] for each test invocation.
type Factory func(t *testing.T) domain.NodeRepository

// Run exercises the [domain.NodeRepository] contract.
func Run(t *testing.T, factory Factory) {
	seen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		rate := 0.02
		node := domain.Node{
			ID:           "n1",
			ProjectID:    "p1",
			Name:         "edge-fra-01",
			Labels:       map[string]string{"region": "eu"},
			Capabilities: []string{"tls", "h2"},
			Status:       domain.NodeStatusOnline,
			LastSeenAt:   seen,
			Metrics:      domain.NodeMetrics{ErrorRate: &rate},
		}

		if err := repo.Create(ctx, node); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "n1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != "edge-fra-01" {
			t.Errorf("Name = %q, want %q", got.Name, "edge-fra-01")
		}
		if got.Labels["region"] != "eu" {
			t.Errorf("Labels[region] = %q, want %q", got.Labels["region"], "eu")
		}
		if got.Status != domain.NodeStatusOnline {
			t.Errorf("Status = %q, want online", got.Status)
		}
		if !got.LastSeenAt.Equal(seen) {
			t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, seen)
		}
		if got.Metrics.ErrorRate == nil || *got.Metrics.ErrorRate != 0.02 {
			t.Errorf("Metrics.ErrorRate = %v, want 0.02", got.Metrics.ErrorRate)
		}
		if got.ExpectedBundleID != nil {
			t.Errorf("ExpectedBundleID = %v, want nil", got.ExpectedBundleID)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		node := domain.Node{ID: "n1", ProjectID: "p1", Name: "a", Status: domain.NodeStatusUnknown}

		if err := repo.Create(ctx, node); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := repo.Create(ctx, node)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateBundlePointers", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		node := domain.Node{ID: "n1", ProjectID: "p1", Name: "a", Status: domain.NodeStatusOnline}
		if err := repo.Create(ctx, node); err != nil {
			t.Fatal(err)
		}

		expected := domain.BundleID("b7")
		staged := domain.BundleID("b7")
		node.ExpectedBundleID = &expected
		node.StagedBundleID = &staged
		if err := repo.Update(ctx, node); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repo.Get(ctx, "n1")
		if got.ExpectedBundleID == nil || *got.ExpectedBundleID != "b7" {
			t.Errorf("ExpectedBundleID = %v, want b7", got.ExpectedBundleID)
		}
		if got.ActiveBundleID != nil {
			t.Errorf("ActiveBundleID = %v, want nil", got.ActiveBundleID)
		}

		// Clearing a pointer must persist as null.
		node.StagedBundleID = nil
		if err := repo.Update(ctx, node); err != nil {
			t.Fatalf("second Update: %v", err)
		}
		got, _ = repo.Get(ctx, "n1")
		if got.StagedBundleID != nil {
			t.Errorf("StagedBundleID = %v after clearing, want nil", got.StagedBundleID)
		}
	})

	t.Run("ListByProject", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		for _, n := range []domain.Node{
			{ID: "n2", ProjectID: "p1", Name: "b", Status: domain.NodeStatusOnline},
			{ID: "n1", ProjectID: "p1", Name: "a", Status: domain.NodeStatusOnline},
			{ID: "n3", ProjectID: "p2", Name: "c", Status: domain.NodeStatusOnline},
		} {
			if err := repo.Create(ctx, n); err != nil {
				t.Fatalf("Create %s: %v", n.ID, err)
			}
		}

		got, err := repo.ListByProject(ctx, "p1")
		if err != nil {
			t.Fatalf("ListByProject: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByProject: got %d, want 2", len(got))
		}
		if got[0].ID != "n1" || got[1].ID != "n2" {
			t.Errorf("order = [%s %s], want stable ID order", got[0].ID, got[1].ID)
		}
	})

	t.Run("ListManaged", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		expected := domain.BundleID("b1")

		_ = repo.Create(ctx, domain.Node{ID: "n1", ProjectID: "p1", Name: "a", Status: domain.NodeStatusOnline, ExpectedBundleID: &expected})
		_ = repo.Create(ctx, domain.Node{ID: "n2", ProjectID: "p1", Name: "b", Status: domain.NodeStatusOnline})

		got, err := repo.ListManaged(ctx, "p1")
		if err != nil {
			t.Fatalf("ListManaged: %v", err)
		}
		if len(got) != 1 || got[0].ID != "n1" {
			t.Fatalf("ListManaged = %v, want only the managed node", got)
		}
	})

	t.Run("Projects", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		_ = repo.Create(ctx, domain.Node{ID: "n1", ProjectID: "p2", Name: "a", Status: domain.NodeStatusOnline})
		_ = repo.Create(ctx, domain.Node{ID: "n2", ProjectID: "p1", Name: "b", Status: domain.NodeStatusOnline})
		_ = repo.Create(ctx, domain.Node{ID: "n3", ProjectID: "p1", Name: "c", Status: domain.NodeStatusOnline})

		got, err := repo.Projects(ctx)
		if err != nil {
			t.Fatalf("Projects: %v", err)
		}
		if len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
			t.Fatalf("Projects = %v, want [p1 p2]", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, domain.Node{ID: "n1", ProjectID: "p1", Name: "a", Status: domain.NodeStatusOnline}); err != nil {
			t.Fatal(err)
		}
		if err := repo.Delete(ctx, "n1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err := repo.Get(ctx, "n1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
	})
}
