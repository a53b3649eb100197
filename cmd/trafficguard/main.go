package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"trafficguard/pkg/config"
	"trafficguard/pkg/db"
	"trafficguard/pkg/health"
	"trafficguard/pkg/logger"
	"trafficguard/pkg/quota"
	"trafficguard/pkg/redis"
	"trafficguard/pkg/sequence"
	"trafficguard/pkg/server"
	asynqtask "trafficguard/pkg/task"
	"trafficguard/services/admin"
	"trafficguard/services/campaign"
	"trafficguard/services/ledger"
	"trafficguard/services/metrics"
	"trafficguard/services/notify"
	"trafficguard/services/oracle"
	"trafficguard/services/payout"
	"trafficguard/services/post"
	"trafficguard/services/task"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		asynqtask.Client,
		sequence.Module,
		quota.Module,
		fx.Provide(
			server.NewEngine,
			provideTracerProvider,
			provideMeterProvider,
			provideSnowflakeNode,
			providePayoutEnqueuer,
		),
		health.Module,
		oracle.Module,
		notify.Module,
		campaign.Module,
		ledger.Module,
		post.Module,
		metrics.Module,
		payout.Module,
		task.Module,
		admin.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func providePayoutEnqueuer(l *ledger.Service) post.PayoutEnqueuer {
	return l
}
