package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ispbss/pkg/config"
	"ispbss/pkg/db"
	"ispbss/pkg/gen"
	"ispbss/pkg/hashistack/secretmanager"
	"ispbss/pkg/health"
	"ispbss/pkg/httpapi"
	"ispbss/pkg/logger"
	"ispbss/pkg/otelcol"
	"ispbss/pkg/profiling"
	"ispbss/pkg/redis"
	"ispbss/pkg/server"
	"ispbss/pkg/task"
	"ispbss/services/alert"
	"ispbss/services/enforcer"
	"ispbss/services/monitor"
	"ispbss/services/reporter"
	"ispbss/services/subscriber"
)

// The instance binary runs inside a tenant's ISP deployment: it holds the
// license, gates subscriber creation, and monitors and reports usage.
func main() {
	opts := []fx.Option{
		secretmanager.Select(),
		config.Select(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		server.ProvideHTTPServer,
		health.Module,
		httpapi.Module,
		task.Client,
		task.Server,
		task.Scheduler,
		fx.Invoke(migrate),
		enforcer.ServerModule,
		enforcer.WorkerModule,
		subscriber.ServerModule,
		reporter.Module,
		alert.Module,
		monitor.WorkerModule,
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

func migrate(gdb *gorm.DB, cfg *config.Config) error {
	return db.AutoMigrate(gdb, cfg, &subscriber.Subscriber{})
}
