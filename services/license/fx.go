package license

import (
	"net/http"

	"ispbss/pkg/config"
	"ispbss/pkg/middleware"
	"ispbss/pkg/task"
	"ispbss/pkg/taskname"
	"ispbss/services/apikey"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("license.module",
	fx.Provide(NewService),
)

var ServerModule = fx.Module("license.server",
	Module,
	fx.Invoke(registerHandlers),
)

// WorkerModule registers the asynq handlers and the daily refresh schedule.
var WorkerModule = fx.Module("license.worker",
	fx.Provide(
		fx.Annotate(refreshSchedule, fx.ResultTags(`group:"periodic_tasks"`)),
	),
	fx.Invoke(registerTaskHandlers),
)

type handlerParams struct {
	fx.In
	Mux     *runtime.ServeMux
	Config  *config.Config
	Service *Service
	Keys    *apikey.Service
}

func registerHandlers(p handlerParams) error {
	key := p.Config.Platform.APIKey
	admin := []struct {
		method, path string
		h            middleware.HandlerFunc
	}{
		{http.MethodPost, "/v1/tenants/{tenant_id}/license", p.Service.handleIssue},
		{http.MethodPut, "/v1/tenants/{tenant_id}/plan", p.Service.handlePlanChange},
		{http.MethodPost, "/v1/licenses:refresh", p.Service.handleRefresh},
	}
	for _, rt := range admin {
		if err := p.Mux.HandlePath(rt.method, rt.path, middleware.RequirePlatformKey(key, middleware.Handle(rt.h))); err != nil {
			return err
		}
	}

	return p.Mux.HandlePath(http.MethodGet, "/v1/tenants/{tenant_id}/license",
		middleware.RequireInstanceKey(p.Keys.Verifier(apikey.ScopeLicenseRead), middleware.Handle(p.Service.handlePull)))
}

func refreshSchedule(cfg *config.Config) task.Periodic {
	return task.Periodic{
		Spec: cfg.License.RefreshSchedule,
		Task: NewRefreshTask(cfg.License.RefreshDaysBeforeExpiry),
	}
}

func registerTaskHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.LicensePush, s.HandlePushTask)
	mux.HandleFunc(taskname.LicenseRefreshExpiring, s.HandleRefreshTask)
}
