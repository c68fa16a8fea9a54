package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate-server/internal/application"
	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// countingTicker returns waiting until the scripted tick count is reached,
// then completed.
type countingTicker struct {
	mu        sync.Mutex
	ticks     map[domain.RolloutID]int
	stopAfter int
}

func (c *countingTicker) Tick(_ context.Context, id domain.RolloutID) (domain.TickOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticks == nil {
		c.ticks = map[domain.RolloutID]int{}
	}
	c.ticks[id]++
	if c.ticks[id] >= c.stopAfter {
		return domain.OutcomeCompleted, nil
	}
	return domain.OutcomeWaiting, nil
}

func (c *countingTicker) count(id domain.RolloutID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks[id]
}

func TestIntervalDriverStopsOnTerminalOutcome(t *testing.T) {
	ticker := &countingTicker{stopAfter: 3}
	driver := &application.IntervalDriver{Ticker: ticker, Interval: 5 * time.Millisecond}
	defer driver.Close()

	if err := driver.StartTicking(context.Background(), "r1"); err != nil {
		t.Fatalf("StartTicking: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for ticker.count("r1") < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("loop stalled at %d ticks", ticker.count("r1"))
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	if got := ticker.count("r1"); got != 3 {
		t.Errorf("ticks after completed = %d, want 3", got)
	}
}

func TestIntervalDriverDeduplicatesLoops(t *testing.T) {
	ticker := &countingTicker{stopAfter: 1000} // never stops during the test
	driver := &application.IntervalDriver{Ticker: ticker, Interval: time.Minute}
	defer driver.Close()

	ctx := context.Background()
	if err := driver.StartTicking(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := driver.StartTicking(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for ticker.count("r1") < 1 {
		if time.Now().After(deadline) {
			t.Fatal("loop never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := ticker.count("r1"); got != 1 {
		t.Errorf("duplicate StartTicking produced %d ticks, want 1", got)
	}
}

func TestIntervalDriverCloseStopsLoops(t *testing.T) {
	ticker := &countingTicker{stopAfter: 1000}
	driver := &application.IntervalDriver{Ticker: ticker, Interval: time.Minute}

	if err := driver.StartTicking(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	driver.Close() // must return, not hang on the parked loop
}

func TestIntervalDriverRejectsStartAfterClose(t *testing.T) {
	ticker := &countingTicker{stopAfter: 1000}
	driver := &application.IntervalDriver{Ticker: ticker, Interval: time.Minute}
	driver.Close()

	if err := driver.StartTicking(context.Background(), "r1"); !errors.Is(err, application.ErrDriverClosed) {
		t.Fatalf("StartTicking after Close = %v, want ErrDriverClosed", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := ticker.count("r1"); got != 0 {
		t.Errorf("closed driver ran %d ticks, want 0", got)
	}
}
