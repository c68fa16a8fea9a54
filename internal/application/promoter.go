package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fleetgate/fleetgate-server/internal/domain"
)

// SchedulePromoter starts pending rollouts whose scheduled time has
// arrived. It runs as a recurring job (the cmd wires it into cron); each
// Run scans the pending set once. A scheduled rollout still waiting on
// approval is left pending and retried on the next run.
type SchedulePromoter struct {
	Tx      domain.TxRunner
	Rollout *RolloutService

	Now func() time.Time
	Log *zap.Logger
}

func (p *SchedulePromoter) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *SchedulePromoter) log() *zap.Logger {
	if p.Log != nil {
		return p.Log
	}
	return zap.NewNop()
}

// Run promotes every due pending rollout and returns how many started.
func (p *SchedulePromoter) Run(ctx context.Context) (int, error) {
	var pending []domain.Rollout
	err := p.Tx.InTx(ctx, func(r domain.Repos) error {
		var err error
		pending, err = r.Rollouts.ListByState(ctx, domain.RolloutStatePending)
		return err
	})
	if err != nil {
		return 0, err
	}

	now := p.now()
	started := 0
	for _, rollout := range pending {
		if rollout.ScheduledAt == nil || rollout.ScheduledAt.After(now) {
			continue
		}
		err := p.Rollout.Start(ctx, rollout.ID)
		switch {
		case err == nil:
			started++
			p.log().Info("scheduled rollout promoted",
				zap.String("rollout", string(rollout.ID)),
				zap.Time("scheduled_at", *rollout.ScheduledAt))
		case errors.Is(err, domain.ErrApprovalRequired):
			p.log().Warn("scheduled rollout awaiting approval",
				zap.String("rollout", string(rollout.ID)))
		case errors.Is(err, domain.ErrApprovalRejected):
			p.log().Warn("scheduled rollout was rejected",
				zap.String("rollout", string(rollout.ID)))
		default:
			p.log().Error("promote rollout",
				zap.String("rollout", string(rollout.ID)), zap.Error(err))
		}
	}
	return started, nil
}
