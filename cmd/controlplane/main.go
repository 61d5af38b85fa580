package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ispbss/pkg/config"
	"ispbss/pkg/db"
	"ispbss/pkg/featureflags"
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
	"ispbss/services/apikey"
	"ispbss/services/license"
	"ispbss/services/plan"
	"ispbss/services/tenant"
	"ispbss/services/usage"
)

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
		featureflags.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		health.Module,
		health.GRPCModule,
		httpapi.Module,
		task.Client,
		task.Server,
		task.Scheduler,
		fx.Invoke(migrate),
		plan.ServerModule,
		apikey.ServerModule,
		tenant.ServerModule,
		license.ServerModule,
		license.WorkerModule,
		usage.ServerModule,
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
	return db.AutoMigrate(gdb, cfg,
		&plan.TenantPlan{},
		&tenant.Tenant{},
		&apikey.APIKey{},
		&license.TenantLicense{},
		&usage.UsageSnapshot{},
	)
}
