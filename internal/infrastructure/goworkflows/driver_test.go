package goworkflows_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/fleetgate/fleetgate-server/internal/domain"
	"github.com/fleetgate/fleetgate-server/internal/infrastructure/goworkflows"
)

// scriptedTicker returns the scripted outcomes in order, repeating the last
// one.
type scriptedTicker struct {
	outcomes []domain.TickOutcome
	calls    atomic.Int64
}

func (s *scriptedTicker) Tick(ctx context.Context, id domain.RolloutID) (domain.TickOutcome, error) {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.outcomes) {
		n = len(s.outcomes) - 1
	}
	return s.outcomes[n], nil
}

// startWorker returns the worker and the context to pass to its Start
// method; cancelling that context on cleanup is what stops the worker.
func startWorker(t *testing.T, b backend.Backend) (*worker.Worker, context.Context) {
	t.Helper()
	w := worker.New(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.WaitForCompletion()
	})
	return w, ctx
}

func TestTickLoopRunsUntilStopOutcome(t *testing.T) {
	b := wfsqlite.NewInMemoryBackend()
	w, wctx := startWorker(t, b)
	c := client.New(b)

	ticker := &scriptedTicker{outcomes: []domain.TickOutcome{
		domain.OutcomeStepStarted,
		domain.OutcomeWaiting,
		domain.OutcomeCompleted,
	}}
	driver := &goworkflows.Driver{
		Client:   c,
		Ticker:   ticker,
		Interval: 10 * time.Millisecond,
	}
	if err := driver.Register(w); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := w.Start(wctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}

	ctx := context.Background()
	if err := driver.StartTicking(ctx, "r1"); err != nil {
		t.Fatalf("StartTicking: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for ticker.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("tick loop stalled after %d ticks", ticker.calls.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Give the loop a chance to misbehave: completed must stop it.
	time.Sleep(100 * time.Millisecond)
	if got := ticker.calls.Load(); got != 3 {
		t.Errorf("ticks after completed outcome = %d, want 3", got)
	}
}

func TestStartTickingIsIdempotentWhileRunning(t *testing.T) {
	b := wfsqlite.NewInMemoryBackend()
	w, wctx := startWorker(t, b)
	c := client.New(b)

	ticker := &scriptedTicker{outcomes: []domain.TickOutcome{domain.OutcomeWaiting}}
	driver := &goworkflows.Driver{
		Client:   c,
		Ticker:   ticker,
		Interval: time.Minute, // keep the loop parked between ticks
	}
	if err := driver.Register(w); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := w.Start(wctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}

	ctx := context.Background()
	if err := driver.StartTicking(ctx, "r1"); err != nil {
		t.Fatalf("first StartTicking: %v", err)
	}
	if err := driver.StartTicking(ctx, "r1"); err != nil {
		t.Fatalf("second StartTicking: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for ticker.calls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("tick loop never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := ticker.calls.Load(); got != 1 {
		t.Errorf("duplicate StartTicking produced %d ticks, want 1", got)
	}
}
