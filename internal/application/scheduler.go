package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// IntervalDriver is the in-process [domain.TickDriver]: one goroutine per
// rollout ticks on a fixed interval until an outcome stops the loop. No
// state survives a restart; ResumeTicking at startup rebuilds the loops
// from the rollout table. The durable alternative lives in the goworkflows
// package.
type IntervalDriver struct {
	Ticker   domain.Ticker
	Interval time.Duration
	Log      *zap.Logger

	mu     sync.Mutex
	active map[domain.RolloutID]struct{}
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// ErrDriverClosed is returned by StartTicking after Close.
var ErrDriverClosed = errors.New("tick driver closed")

func (d *IntervalDriver) interval() time.Duration {
	if d.Interval > 0 {
		return d.Interval
	}
	return 5 * time.Second
}

func (d *IntervalDriver) log() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zap.NewNop()
}

// StartTicking implements [domain.TickDriver]. The loop outlives the
// caller's context; a second call while the rollout's loop is alive is
// dropped.
func (d *IntervalDriver) StartTicking(_ context.Context, id domain.RolloutID) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDriverClosed
	}
	if d.active == nil {
		d.active = map[domain.RolloutID]struct{}{}
	}
	if d.done == nil {
		d.done = make(chan struct{})
	}
	if _, running := d.active[id]; running {
		d.mu.Unlock()
		d.log().Debug("rollout already ticking", zap.String("rollout", string(id)))
		return nil
	}
	d.active[id] = struct{}{}
	done := d.done
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(id, done)
	return nil
}

func (d *IntervalDriver) loop(id domain.RolloutID, done chan struct{}) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.active, id)
		d.mu.Unlock()
	}()

	ticker := time.NewTicker(d.interval())
	defer ticker.Stop()

	for {
		outcome, err := d.Ticker.Tick(context.Background(), id)
		if err != nil {
			// Transient store errors resolve on a later tick; keep going.
			d.log().Error("tick failed", zap.String("rollout", string(id)), zap.Error(err))
		} else if outcome.StopsTicking() {
			d.log().Info("tick loop stopped",
				zap.String("rollout", string(id)),
				zap.String("outcome", string(outcome)))
			return
		}

		select {
		case <-ticker.C:
		case <-done:
			return
		}
	}
}

// Close stops every tick loop, waits for them to exit, and rejects any
// later StartTicking.
func (d *IntervalDriver) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		if d.done != nil {
			close(d.done)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}
