package domain_test

import (
	"context"
	"fmt"
	"sort"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// memStore is an in-memory implementation of the repository ports used by
// orchestrator and detector tests. Writes apply immediately; the TxRunner
// is a passthrough, which is sufficient because these tests assert state
// machine behavior, not atomicity (the SQLite tests cover that).
type memStore struct {
	rollouts  map[domain.RolloutID]domain.Rollout
	steps     map[domain.RolloutID][]domain.RolloutStep
	statuses  map[string]domain.NodeBundleStatus
	nodes     map[domain.NodeID]domain.Node
	approvals map[domain.RolloutID][]domain.RolloutApproval
	events    map[string]domain.DriftEvent
	endpoints []domain.HealthCheckEndpoint
}

func newMemStore() *memStore {
	return &memStore{
		rollouts:  map[domain.RolloutID]domain.Rollout{},
		steps:     map[domain.RolloutID][]domain.RolloutStep{},
		statuses:  map[string]domain.NodeBundleStatus{},
		nodes:     map[domain.NodeID]domain.Node{},
		approvals: map[domain.RolloutID][]domain.RolloutApproval{},
		events:    map[string]domain.DriftEvent{},
	}
}

func statusKey(r domain.RolloutID, n domain.NodeID) string {
	return string(r) + "/" + string(n)
}

func (m *memStore) repos() domain.Repos {
	return domain.Repos{
		Rollouts:  (*memRollouts)(m),
		Steps:     (*memSteps)(m),
		Statuses:  (*memStatuses)(m),
		Nodes:     (*memNodes)(m),
		Approvals: (*memApprovals)(m),
	}
}

func (m *memStore) InTx(_ context.Context, fn func(domain.Repos) error) error {
	return fn(m.repos())
}

type memRollouts memStore

func (m *memRollouts) Create(_ context.Context, r domain.Rollout) error {
	if _, ok := m.rollouts[r.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.rollouts[r.ID] = r
	return nil
}

func (m *memRollouts) Get(_ context.Context, id domain.RolloutID) (domain.Rollout, error) {
	r, ok := m.rollouts[id]
	if !ok {
		return domain.Rollout{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memRollouts) ListByProject(_ context.Context, project domain.ProjectID) ([]domain.Rollout, error) {
	var out []domain.Rollout
	for _, r := range m.rollouts {
		if r.ProjectID == project {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRollouts) ListByState(_ context.Context, state domain.RolloutState) ([]domain.Rollout, error) {
	var out []domain.Rollout
	for _, r := range m.rollouts {
		if r.State == state {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRollouts) Update(_ context.Context, r domain.Rollout) error {
	if _, ok := m.rollouts[r.ID]; !ok {
		return domain.ErrNotFound
	}
	m.rollouts[r.ID] = r
	return nil
}

type memSteps memStore

func (m *memSteps) CreateAll(_ context.Context, steps []domain.RolloutStep) error {
	for _, s := range steps {
		m.steps[s.RolloutID] = append(m.steps[s.RolloutID], s)
	}
	return nil
}

func (m *memSteps) ListByRollout(_ context.Context, id domain.RolloutID) ([]domain.RolloutStep, error) {
	steps := append([]domain.RolloutStep(nil), m.steps[id]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })
	return steps, nil
}

func (m *memSteps) Update(_ context.Context, step domain.RolloutStep) error {
	for i, s := range m.steps[step.RolloutID] {
		if s.Index == step.Index {
			m.steps[step.RolloutID][i] = step
			return nil
		}
	}
	return domain.ErrNotFound
}

type memStatuses memStore

func (m *memStatuses) Create(_ context.Context, status domain.NodeBundleStatus) error {
	key := statusKey(status.RolloutID, status.NodeID)
	if _, ok := m.statuses[key]; ok {
		return domain.ErrAlreadyExists
	}
	m.statuses[key] = status
	return nil
}

func (m *memStatuses) Get(_ context.Context, rollout domain.RolloutID, node domain.NodeID) (domain.NodeBundleStatus, error) {
	s, ok := m.statuses[statusKey(rollout, node)]
	if !ok {
		return domain.NodeBundleStatus{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memStatuses) ListByRollout(_ context.Context, rollout domain.RolloutID) ([]domain.NodeBundleStatus, error) {
	var out []domain.NodeBundleStatus
	for _, s := range m.statuses {
		if s.RolloutID == rollout {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (m *memStatuses) Update(_ context.Context, status domain.NodeBundleStatus) error {
	key := statusKey(status.RolloutID, status.NodeID)
	if _, ok := m.statuses[key]; !ok {
		return domain.ErrNotFound
	}
	m.statuses[key] = status
	return nil
}

type memNodes memStore

func (m *memNodes) Create(_ context.Context, node domain.Node) error {
	if _, ok := m.nodes[node.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.nodes[node.ID] = node
	return nil
}

func (m *memNodes) Get(_ context.Context, id domain.NodeID) (domain.Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return domain.Node{}, domain.ErrNotFound
	}
	return n, nil
}

func (m *memNodes) ListByProject(_ context.Context, project domain.ProjectID) ([]domain.Node, error) {
	var out []domain.Node
	for _, n := range m.nodes {
		if n.ProjectID == project {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memNodes) ListManaged(_ context.Context, project domain.ProjectID) ([]domain.Node, error) {
	all, _ := m.ListByProject(context.Background(), project)
	var out []domain.Node
	for _, n := range all {
		if n.ExpectedBundleID != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNodes) Projects(_ context.Context) ([]domain.ProjectID, error) {
	seen := map[domain.ProjectID]bool{}
	var out []domain.ProjectID
	for _, n := range m.nodes {
		if !seen[n.ProjectID] {
			seen[n.ProjectID] = true
			out = append(out, n.ProjectID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memNodes) Update(_ context.Context, node domain.Node) error {
	if _, ok := m.nodes[node.ID]; !ok {
		return domain.ErrNotFound
	}
	m.nodes[node.ID] = node
	return nil
}

func (m *memNodes) Delete(_ context.Context, id domain.NodeID) error {
	delete(m.nodes, id)
	return nil
}

type memApprovals memStore

func (m *memApprovals) Create(_ context.Context, approval domain.RolloutApproval) error {
	for _, a := range m.approvals[approval.RolloutID] {
		if a.User == approval.User {
			return fmt.Errorf("approval by %q: %w", approval.User, domain.ErrAlreadyExists)
		}
	}
	m.approvals[approval.RolloutID] = append(m.approvals[approval.RolloutID], approval)
	return nil
}

func (m *memApprovals) CountByRollout(_ context.Context, id domain.RolloutID) (int, error) {
	return len(m.approvals[id]), nil
}

func (m *memApprovals) ListByRollout(_ context.Context, id domain.RolloutID) ([]domain.RolloutApproval, error) {
	return append([]domain.RolloutApproval(nil), m.approvals[id]...), nil
}

type memEvents memStore

func (m *memEvents) Create(_ context.Context, event domain.DriftEvent) error {
	if _, ok := m.events[event.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.events[event.ID] = event
	return nil
}

func (m *memEvents) Get(_ context.Context, id string) (domain.DriftEvent, error) {
	e, ok := m.events[id]
	if !ok {
		return domain.DriftEvent{}, domain.ErrNotFound
	}
	return e, nil
}

func (m *memEvents) GetUnresolvedByNode(_ context.Context, node domain.NodeID) (domain.DriftEvent, error) {
	for _, e := range m.events {
		if e.NodeID == node && !e.Resolved() {
			return e, nil
		}
	}
	return domain.DriftEvent{}, domain.ErrNotFound
}

func (m *memEvents) ListByProject(_ context.Context, project domain.ProjectID, unresolvedOnly bool) ([]domain.DriftEvent, error) {
	var out []domain.DriftEvent
	for _, e := range m.events {
		if e.ProjectID != project {
			continue
		}
		if unresolvedOnly && e.Resolved() {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memEvents) Update(_ context.Context, event domain.DriftEvent) error {
	if _, ok := m.events[event.ID]; !ok {
		return domain.ErrNotFound
	}
	m.events[event.ID] = event
	return nil
}

type memEndpoints memStore

func (m *memEndpoints) Create(_ context.Context, endpoint domain.HealthCheckEndpoint) error {
	m.endpoints = append(m.endpoints, endpoint)
	return nil
}

func (m *memEndpoints) Get(_ context.Context, id string) (domain.HealthCheckEndpoint, error) {
	for _, e := range m.endpoints {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.HealthCheckEndpoint{}, domain.ErrNotFound
}

func (m *memEndpoints) ListByProject(_ context.Context, project domain.ProjectID) ([]domain.HealthCheckEndpoint, error) {
	var out []domain.HealthCheckEndpoint
	for _, e := range m.endpoints {
		if e.ProjectID == project {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEndpoints) ListEnabled(_ context.Context, project domain.ProjectID) ([]domain.HealthCheckEndpoint, error) {
	var out []domain.HealthCheckEndpoint
	for _, e := range m.endpoints {
		if e.ProjectID == project && e.Enabled {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEndpoints) Update(_ context.Context, endpoint domain.HealthCheckEndpoint) error {
	for i, e := range m.endpoints {
		if e.ID == endpoint.ID {
			m.endpoints[i] = endpoint
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memEndpoints) Delete(_ context.Context, id string) error {
	for i, e := range m.endpoints {
		if e.ID == id {
			m.endpoints = append(m.endpoints[:i], m.endpoints[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}
