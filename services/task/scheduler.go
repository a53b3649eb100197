package task

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// hourlyInterval drives reconciliation, status refresh and payout drain.
const hourlyInterval = time.Hour

type Scheduler struct {
	service *Service
}

func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{service: svc}
}

// StartScheduler runs the dispatch loops under the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.runDaily(ctx)
			go s.runHourly(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// runDaily enqueues the metrics aggregation once a day at the configured
// hour, rolling up the previous day.
func (s *Scheduler) runDaily(ctx context.Context) {
	hour := s.service.cfg.Jobs.AggregateHour
	minute := s.service.cfg.Jobs.AggregateMinute

	zap.L().Info("[Scheduler] started daily aggregation scheduler",
		zap.Int("hour", hour), zap.Int("minute", minute))

	for {
		now := time.Now()
		next := nextRunTime(now, hour, minute)

		zap.L().Info("[Scheduler] next aggregation run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)))

		select {
		case <-time.After(next.Sub(now)):
			yesterday := time.Now().UTC().Add(-24 * time.Hour)
			if err := s.service.EnqueueAggregate(ctx, yesterday); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue aggregation", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] daily scheduler stopped")
			return
		}
	}
}

// runHourly enqueues reconciliation, status refresh and payout drain on a
// fixed interval. The jobs themselves enforce quota backpressure.
func (s *Scheduler) runHourly(ctx context.Context) {
	zap.L().Info("[Scheduler] started hourly dispatch loop")

	ticker := time.NewTicker(hourlyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.service.EnqueueReconcile(ctx, 0); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue reconciliation", zap.Error(err))
			}
			if err := s.service.EnqueueRefreshStatus(ctx); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue status refresh", zap.Error(err))
			}
			if err := s.service.EnqueuePayoutDrain(ctx, 0); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue payout drain", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] hourly scheduler stopped")
			return
		}
	}
}

// nextRunTime computes the next occurrence of the given wall-clock time.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
