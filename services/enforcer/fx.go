package enforcer

import (
	"context"
	"net/http"

	"ispbss/pkg/config"
	"ispbss/pkg/middleware"
	"ispbss/pkg/taskname"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("enforcer.module",
	fx.Provide(
		NewService,
		NewRedisStore,
	),
	fx.Invoke(registerRestore),
)

var ServerModule = fx.Module("enforcer.server",
	Module,
	fx.Invoke(registerHandlers),
)

var WorkerModule = fx.Module("enforcer.worker",
	fx.Invoke(registerTaskHandlers),
)

func registerRestore(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Restore(ctx)
		},
	})
}

func registerHandlers(mux *runtime.ServeMux, cfg *config.Config, s *Service) error {
	key := cfg.Platform.APIKey
	if err := mux.HandlePath(http.MethodPost, "/license/sync",
		middleware.RequirePlatformKey(key, middleware.Handle(s.handleSync))); err != nil {
		return err
	}
	return mux.HandlePath(http.MethodGet, "/license/status",
		middleware.RequirePlatformKey(key, middleware.Handle(s.handleStatus)))
}

func registerTaskHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.LicenseOverageBilling, HandleOverageBillingTask)
}
