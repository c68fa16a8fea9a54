package domain_test

import (
	"errors"
	"testing"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

func pool(ids ...domain.NodeID) []domain.Node {
	nodes := make([]domain.Node, len(ids))
	for i, id := range ids {
		nodes[i] = domain.Node{ID: id}
	}
	return nodes
}

func TestResolveTargets_All(t *testing.T) {
	nodes, err := domain.ResolveTargets(
		domain.TargetSelector{Type: domain.SelectorAll},
		pool("n3", "n1", "n2"),
	)
	if err != nil {
		t.Fatalf("ResolveTargets: %v", err)
	}
	want := []domain.NodeID{"n1", "n2", "n3"}
	if len(nodes) != len(want) {
		t.Fatalf("got %d nodes, want %d", len(nodes), len(want))
	}
	for i, id := range want {
		if nodes[i].ID != id {
			t.Errorf("nodes[%d] = %q, want %q (stable sort by ID)", i, nodes[i].ID, id)
		}
	}
}

func TestResolveTargets_LabelsSupersetMatch(t *testing.T) {
	nodes := []domain.Node{
		{ID: "a", Labels: map[string]string{"region": "eu", "tier": "edge"}},
		{ID: "b", Labels: map[string]string{"region": "eu"}},
		{ID: "c", Labels: map[string]string{"region": "us", "tier": "edge"}},
	}
	got, err := domain.ResolveTargets(domain.TargetSelector{
		Type:   domain.SelectorLabels,
		Labels: map[string]string{"region": "eu", "tier": "edge"},
	}, nodes)
	if err != nil {
		t.Fatalf("ResolveTargets: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %v, want exactly node a", got)
	}
}

func TestResolveTargets_NodeIDsUnknownIsError(t *testing.T) {
	_, err := domain.ResolveTargets(domain.TargetSelector{
		Type:    domain.SelectorNodeIDs,
		NodeIDs: []domain.NodeID{"n1", "ghost"},
	}, pool("n1", "n2"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTargetSelector_Validate(t *testing.T) {
	cases := []struct {
		name    string
		sel     domain.TargetSelector
		wantErr bool
	}{
		{"all", domain.TargetSelector{Type: domain.SelectorAll}, false},
		{"all with labels", domain.TargetSelector{Type: domain.SelectorAll, Labels: map[string]string{"a": "b"}}, true},
		{"labels empty", domain.TargetSelector{Type: domain.SelectorLabels}, true},
		{"node_ids empty", domain.TargetSelector{Type: domain.SelectorNodeIDs}, true},
		{"unknown type", domain.TargetSelector{Type: "regex"}, true},
		{"labels mixed with ids", domain.TargetSelector{Type: domain.SelectorLabels, Labels: map[string]string{"a": "b"}, NodeIDs: []domain.NodeID{"n1"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.sel.Validate()
			if tc.wantErr && !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
