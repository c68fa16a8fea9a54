package domain

import (
	"context"
	"fmt"
	"time"
)

// HeartbeatFreshness is the window within which a node's last_seen_at must
// fall for the heartbeat check to pass.
const HeartbeatFreshness = 120 * time.Second

// Health gate option keys. ParseHealthGateConfig rejects anything else.
const (
	GateHeartbeatHealthy = "heartbeat_healthy"
	GateMaxErrorRate     = "max_error_rate"
	GateMaxLatencyMS     = "max_latency_ms"
	GateMaxCPUPercent    = "max_cpu_percent"
	GateMaxMemoryPercent = "max_memory_percent"
)

// HealthGateConfig is the fixed-schema gate configuration. Each field is an
// independently toggleable check; nil means not configured. An empty config
// trivially passes.
type HealthGateConfig struct {
	HeartbeatHealthy *bool    `json:"heartbeat_healthy,omitempty"`
	MaxErrorRate     *float64 `json:"max_error_rate,omitempty"`
	MaxLatencyMS     *float64 `json:"max_latency_ms,omitempty"`
	MaxCPUPercent    *float64 `json:"max_cpu_percent,omitempty"`
	MaxMemoryPercent *float64 `json:"max_memory_percent,omitempty"`
}

// ParseHealthGateConfig converts a loosely-typed options map into the fixed
// schema, rejecting unknown keys and mistyped values at construction time —
// never at evaluation time.
func ParseHealthGateConfig(raw map[string]any) (HealthGateConfig, error) {
	var cfg HealthGateConfig
	for key, value := range raw {
		switch key {
		case GateHeartbeatHealthy:
			b, ok := value.(bool)
			if !ok {
				return cfg, fmt.Errorf("%w: health gate %q must be a boolean", ErrInvalidArgument, key)
			}
			cfg.HeartbeatHealthy = &b
		case GateMaxErrorRate, GateMaxLatencyMS, GateMaxCPUPercent, GateMaxMemoryPercent:
			f, err := toFloat(value)
			if err != nil {
				return cfg, fmt.Errorf("%w: health gate %q must be numeric", ErrInvalidArgument, key)
			}
			switch key {
			case GateMaxErrorRate:
				cfg.MaxErrorRate = &f
			case GateMaxLatencyMS:
				cfg.MaxLatencyMS = &f
			case GateMaxCPUPercent:
				cfg.MaxCPUPercent = &f
			case GateMaxMemoryPercent:
				cfg.MaxMemoryPercent = &f
			}
		default:
			return cfg, fmt.Errorf("%w: unknown health gate key %q", ErrInvalidArgument, key)
		}
	}
	return cfg, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("not numeric: %T", v)
}

// ProbeMethod is the HTTP method of a custom endpoint check.
type ProbeMethod string

const (
	ProbeGET  ProbeMethod = "GET"
	ProbePOST ProbeMethod = "POST"
	ProbeHEAD ProbeMethod = "HEAD"
)

// HealthCheckEndpoint is a project-scoped, reusable HTTP probe definition.
type HealthCheckEndpoint struct {
	ID             string
	ProjectID      ProjectID
	Name           string
	URL            string
	Method         ProbeMethod
	TimeoutMS      int
	ExpectedStatus int
	BodyContains   string
	Headers        map[string]string
	Enabled        bool
	CreatedAt      time.Time
}

// Validate checks the endpoint definition's bounds.
func (e HealthCheckEndpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: endpoint name is required", ErrInvalidArgument)
	}
	if e.URL == "" {
		return fmt.Errorf("%w: endpoint URL is required", ErrInvalidArgument)
	}
	switch e.Method {
	case ProbeGET, ProbePOST, ProbeHEAD:
	default:
		return fmt.Errorf("%w: unsupported probe method %q", ErrInvalidArgument, e.Method)
	}
	if e.TimeoutMS < 1 || e.TimeoutMS > 60000 {
		return fmt.Errorf("%w: timeout_ms must be in [1, 60000]", ErrInvalidArgument)
	}
	if e.ExpectedStatus < 100 || e.ExpectedStatus > 599 {
		return fmt.Errorf("%w: expected_status must be in [100, 599]", ErrInvalidArgument)
	}
	return nil
}

// EndpointProber is the port through which the evaluator issues custom HTTP
// checks. A non-nil error is the failing reason; implementations must
// convert network failures, timeouts, and panics into errors, never crash
// the tick.
type EndpointProber interface {
	Probe(ctx context.Context, endpoint HealthCheckEndpoint) error
}

// GateResult is the outcome of one health-gate evaluation.
type GateResult struct {
	Passed bool
	Reason string
}

func gateFail(format string, args ...any) GateResult {
	return GateResult{Reason: fmt.Sprintf(format, args...)}
}

// HealthGateEvaluator evaluates a gate configuration plus the project's
// enabled custom endpoints against a set of nodes. Checks run in a fixed
// order (built-ins first, endpoints in list order) and the first failing
// reason is returned, so operators see a deterministic diagnosis.
type HealthGateEvaluator struct {
	Prober EndpointProber
	Now    func() time.Time
}

func (e *HealthGateEvaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Evaluate returns pass only when every configured built-in check and every
// enabled endpoint passes. Missing metrics fail their check (fail-closed).
func (e *HealthGateEvaluator) Evaluate(ctx context.Context, nodes []Node, cfg HealthGateConfig, endpoints []HealthCheckEndpoint) GateResult {
	now := e.now()

	if cfg.HeartbeatHealthy != nil && *cfg.HeartbeatHealthy {
		for _, n := range nodes {
			if age := now.Sub(n.LastSeenAt); age > HeartbeatFreshness {
				return gateFail("node %s heartbeat is stale (last seen %s ago)", n.ID, age.Truncate(time.Second))
			}
			if n.Status != NodeStatusOnline {
				return gateFail("node %s reports status %q", n.ID, n.Status)
			}
		}
	}
	if r := e.threshold(nodes, "error rate", cfg.MaxErrorRate, func(m NodeMetrics) *float64 { return m.ErrorRate }); !r.Passed {
		return r
	}
	if r := e.threshold(nodes, "latency", cfg.MaxLatencyMS, func(m NodeMetrics) *float64 { return m.LatencyMS }); !r.Passed {
		return r
	}
	if r := e.threshold(nodes, "cpu", cfg.MaxCPUPercent, func(m NodeMetrics) *float64 { return m.CPUPercent }); !r.Passed {
		return r
	}
	if r := e.threshold(nodes, "memory", cfg.MaxMemoryPercent, func(m NodeMetrics) *float64 { return m.MemoryPercent }); !r.Passed {
		return r
	}

	for _, ep := range endpoints {
		if !ep.Enabled {
			continue
		}
		if err := e.probe(ctx, ep); err != nil {
			return gateFail("endpoint %s: %v", ep.Name, err)
		}
	}

	return GateResult{Passed: true}
}

// threshold checks one numeric metric against its configured maximum across
// all nodes. A node that never reported the metric fails the check.
func (e *HealthGateEvaluator) threshold(nodes []Node, label string, max *float64, metric func(NodeMetrics) *float64) GateResult {
	if max == nil {
		return GateResult{Passed: true}
	}
	for _, n := range nodes {
		v := metric(n.Metrics)
		if v == nil {
			return gateFail("node %s has not reported %s", n.ID, label)
		}
		if *v > *max {
			return gateFail("node %s %s %.2f exceeds %.2f", n.ID, label, *v, *max)
		}
	}
	return GateResult{Passed: true}
}

// probe shields the tick from a misbehaving prober implementation.
func (e *HealthGateEvaluator) probe(ctx context.Context, ep HealthCheckEndpoint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	if e.Prober == nil {
		return fmt.Errorf("no prober configured")
	}
	return e.Prober.Probe(ctx, ep)
}
