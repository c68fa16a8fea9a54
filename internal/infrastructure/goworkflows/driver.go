// Package goworkflows implements [domain.TickDriver] using
// cschleiden/go-workflows: one durable workflow instance per rollout runs
// the tick loop, surviving process restarts via the workflow backend.
package goworkflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"go.uber.org/zap"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

const (
	workflowName     = "rollout-tick-loop"
	tickActivityName = "rollout-tick"
)

// instanceID derives the workflow instance ID from the rollout ID. The
// backend rejects a duplicate instance ID, which is exactly the at-most-one
// tick loop per rollout guarantee.
func instanceID(id domain.RolloutID) string {
	return workflowName + "/" + string(id)
}

// Driver implements [domain.TickDriver] backed by go-workflows.
type Driver struct {
	Client   *client.Client
	Ticker   domain.Ticker
	Interval time.Duration
	Log      *zap.Logger
}

func (d *Driver) interval() time.Duration {
	if d.Interval > 0 {
		return d.Interval
	}
	return 5 * time.Second
}

func (d *Driver) log() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zap.NewNop()
}

// Register registers the tick workflow and activity with the worker. Call
// before the worker starts.
func (d *Driver) Register(w *worker.Worker) error {
	if err := w.RegisterWorkflow(d.tickLoop, registry.WithName(workflowName)); err != nil {
		return fmt.Errorf("register workflow %q: %w", workflowName, err)
	}
	if err := w.RegisterActivity(d.tick, registry.WithName(tickActivityName)); err != nil {
		return fmt.Errorf("register activity %q: %w", tickActivityName, err)
	}
	return nil
}

// StartTicking implements [domain.TickDriver]. A second call for a rollout
// whose loop is still running is dropped.
func (d *Driver) StartTicking(ctx context.Context, id domain.RolloutID) error {
	_, err := d.Client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: instanceID(id),
	}, workflowName, string(id))
	if err != nil {
		if errors.Is(err, backend.ErrInstanceAlreadyExists) {
			d.log().Debug("rollout already ticking", zap.String("rollout_id", string(id)))
			return nil
		}
		return fmt.Errorf("start tick loop for rollout %q: %w", id, err)
	}
	d.log().Info("tick loop started", zap.String("rollout_id", string(id)))
	return nil
}

// tickLoop is the durable workflow: tick, and unless the outcome stops the
// loop, sleep one interval and tick again.
func (d *Driver) tickLoop(ctx workflow.Context, id string) (string, error) {
	for {
		outcome, err := workflow.ExecuteActivity[domain.TickOutcome](
			ctx, workflow.DefaultActivityOptions, tickActivityName, id,
		).Get(ctx)
		if err != nil {
			return "", err
		}
		if outcome.StopsTicking() {
			return string(outcome), nil
		}
		if err := workflow.Sleep(ctx, d.interval()); err != nil {
			return "", err
		}
	}
}

// tick is the activity wrapping one orchestrator pass.
func (d *Driver) tick(ctx context.Context, id string) (domain.TickOutcome, error) {
	outcome, err := d.Ticker.Tick(ctx, domain.RolloutID(id))
	if err != nil {
		d.log().Error("tick failed", zap.String("rollout_id", id), zap.Error(err))
		return outcome, err
	}
	d.log().Debug("tick", zap.String("rollout_id", id), zap.String("outcome", string(outcome)))
	return outcome, nil
}
