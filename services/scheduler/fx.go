package scheduler

import (
	"context"

	"promohub-payouts/pkg/config"
	"promohub-payouts/pkg/featureflags"
	"promohub-payouts/pkg/repository"
	"promohub-payouts/services/earnings"
	"promohub-payouts/services/payout"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("scheduler",
	fx.Provide(
		provideScheduler,
		NewDispatcher,
	),
	fx.Invoke(
		migrate,
		func() error { return registerMetrics(prometheus.DefaultRegisterer) },
		startScheduler,
	),
)

// Worker registers the manual trigger task handlers on the asynq mux.
var Worker = fx.Module("scheduler.worker",
	fx.Provide(NewTaskHandler),
	fx.Invoke(func(mux *asynq.ServeMux, h *TaskHandler) { h.Register(mux) }),
)

type SchedulerParams struct {
	fx.In
	Config   *config.Config
	DB       *gorm.DB
	Node     *snowflake.Node
	Earnings *earnings.Service
	Executor *payout.Executor
	Flags    featureflags.FeatureFlag
}

func provideScheduler(p SchedulerParams) *Scheduler {
	return New(
		p.Earnings,
		p.Earnings.Ledger(),
		p.Executor,
		featureflags.NewPauseSwitch(p.Flags, featureflags.PayoutsPaused),
		repository.ProvideStore[SchedulerRun](p.DB),
		p.Node,
		p.Config.Scheduler.Interval,
	)
}

func migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.AutoMigrate(&SchedulerRun{})
}

func startScheduler(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	if !cfg.Scheduler.Enabled {
		zap.L().Warn("[Scheduler] disabled by SCHEDULER.ENABLED")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.Start(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
