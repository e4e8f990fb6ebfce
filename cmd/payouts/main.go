package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"promohub-payouts/internal/httpapi"
	"promohub-payouts/pkg/asynq"
	"promohub-payouts/pkg/config"
	"promohub-payouts/pkg/db"
	"promohub-payouts/pkg/featureflags"
	"promohub-payouts/pkg/gen"
	"promohub-payouts/pkg/hashistack/secretmanager"
	"promohub-payouts/pkg/hashistack/servicediscover"
	"promohub-payouts/pkg/health"
	opsapi "promohub-payouts/pkg/httpapi"
	"promohub-payouts/pkg/logger"
	"promohub-payouts/pkg/otelcol"
	"promohub-payouts/pkg/profiling"
	"promohub-payouts/pkg/redis"
	"promohub-payouts/pkg/server"
	"promohub-payouts/services/earnings"
	"promohub-payouts/services/fxrate"
	"promohub-payouts/services/notification"
	"promohub-payouts/services/payout"
	"promohub-payouts/services/scheduler"
	"promohub-payouts/services/views"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		asynq.Client,
		asynq.Server,
		featureflags.Module,
		health.Module,

		fxrate.Module,
		views.Module,
		earnings.Module,
		notification.Module,
		payout.Module,
		scheduler.Module,
		scheduler.Worker,

		server.ProvideHTTPServer,
		opsapi.Module,
		httpapi.Module,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
