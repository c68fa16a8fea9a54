package domain

import (
	"fmt"
	"sort"
)

// SelectorType identifies the kind of target selector.
type SelectorType string

const (
	SelectorAll     SelectorType = "all"
	SelectorLabels  SelectorType = "labels"
	SelectorNodeIDs SelectorType = "node_ids"
)

// TargetSelector is the closed variant describing which nodes a rollout
// targets. Exactly the fields for its Type may be set; Validate rejects
// everything else at construction, not at use.
type TargetSelector struct {
	Type    SelectorType
	Labels  map[string]string // for "labels"
	NodeIDs []NodeID          // for "node_ids"
}

// Validate checks the selector's shape.
func (s TargetSelector) Validate() error {
	switch s.Type {
	case SelectorAll:
		if len(s.Labels) > 0 || len(s.NodeIDs) > 0 {
			return fmt.Errorf("%w: selector %q takes no labels or node IDs", ErrInvalidArgument, s.Type)
		}
	case SelectorLabels:
		if len(s.Labels) == 0 {
			return fmt.Errorf("%w: selector %q requires at least one label", ErrInvalidArgument, s.Type)
		}
		if len(s.NodeIDs) > 0 {
			return fmt.Errorf("%w: selector %q takes no node IDs", ErrInvalidArgument, s.Type)
		}
	case SelectorNodeIDs:
		if len(s.NodeIDs) == 0 {
			return fmt.Errorf("%w: selector %q requires at least one node ID", ErrInvalidArgument, s.Type)
		}
		if len(s.Labels) > 0 {
			return fmt.Errorf("%w: selector %q takes no labels", ErrInvalidArgument, s.Type)
		}
	default:
		return fmt.Errorf("%w: unsupported selector type %q", ErrInvalidArgument, s.Type)
	}
	return nil
}

// targetResolver resolves a selector variant against the project's node pool.
type targetResolver interface {
	resolve(pool []Node) ([]Node, error)
}

// allNodes selects every node in the pool.
type allNodes struct{}

func (allNodes) resolve(pool []Node) ([]Node, error) {
	result := make([]Node, len(pool))
	copy(result, pool)
	return result, nil
}

// labelMatch selects nodes whose label map is a superset of the selector's.
type labelMatch struct {
	labels map[string]string
}

func (l labelMatch) resolve(pool []Node) ([]Node, error) {
	var result []Node
	for _, n := range pool {
		if matchLabels(n.Labels, l.labels) {
			result = append(result, n)
		}
	}
	return result, nil
}

func matchLabels(labels, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// explicitNodes selects exactly the given IDs; an unknown ID is an error.
type explicitNodes struct {
	ids []NodeID
}

func (e explicitNodes) resolve(pool []Node) ([]Node, error) {
	index := make(map[NodeID]Node, len(pool))
	for _, n := range pool {
		index[n.ID] = n
	}

	result := make([]Node, 0, len(e.ids))
	for _, id := range e.ids {
		n, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("node %q: %w", id, ErrNotFound)
		}
		result = append(result, n)
	}
	return result, nil
}

// ResolveTargets resolves the selector against the pool and returns the
// targeted nodes sorted by ID, the stable order batching relies on.
func ResolveTargets(sel TargetSelector, pool []Node) ([]Node, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	var r targetResolver
	switch sel.Type {
	case SelectorAll:
		r = allNodes{}
	case SelectorLabels:
		r = labelMatch{labels: sel.Labels}
	case SelectorNodeIDs:
		r = explicitNodes{ids: sel.NodeIDs}
	}

	nodes, err := r.resolve(pool)
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}
