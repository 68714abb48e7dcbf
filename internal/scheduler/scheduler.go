package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"reward_ledger/internal/logger"
	"reward_ledger/internal/metrics"
)

const (
	JobReloadEconomy = "reload_economy"
	JobPurgeClaims   = "purge_task_claims"
)

// Reloader re-reads configuration from its source.
type Reloader interface {
	Reload() error
}

type ReloaderFunc func() error

func (f ReloaderFunc) Reload() error { return f() }

// ClaimPurger removes countdown records older than a retention period.
type ClaimPurger interface {
	PurgeStaleClaims(ctx context.Context, retention time.Duration) (int64, error)
}

type Options struct {
	ReloadInterval time.Duration
	ClaimRetention time.Duration
	PurgeInterval  time.Duration
}

type Scheduler struct {
	sched gocron.Scheduler
}

// New registers the maintenance jobs. Jobs with a zero interval are skipped.
// Neither job changes what users observe.
func New(reloader Reloader, purger ClaimPurger, opts Options) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if reloader != nil && opts.ReloadInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(opts.ReloadInterval),
			gocron.NewTask(func() {
				err := reloader.Reload()
				metrics.ObserveJob(JobReloadEconomy, err)
			}),
			gocron.WithName(JobReloadEconomy),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", JobReloadEconomy, err)
		}
	}

	if purger != nil && opts.ClaimRetention > 0 {
		interval := opts.PurgeInterval
		if interval <= 0 {
			interval = time.Hour
		}
		_, err = sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func(ctx context.Context) {
				n, err := purger.PurgeStaleClaims(ctx, opts.ClaimRetention)
				metrics.ObserveJob(JobPurgeClaims, err)
				if err != nil {
					logger.L.Error("purge task claims failed", zap.Error(err))
					return
				}
				if n > 0 {
					logger.L.Info("purged stale task claims", zap.Int64("rows", n))
				}
			}),
			gocron.WithName(JobPurgeClaims),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", JobPurgeClaims, err)
		}
	}

	return &Scheduler{sched: sched}, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	logger.L.Info("scheduler started", zap.Int("jobs", len(s.sched.Jobs())))
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
