package usage

import (
	"net/http"

	"ispbss/pkg/config"
	"ispbss/pkg/middleware"
	"ispbss/services/apikey"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.module",
	fx.Provide(NewService),
)

var ServerModule = fx.Module("usage.server",
	Module,
	fx.Invoke(registerHandlers),
)

type handlerParams struct {
	fx.In
	Mux     *runtime.ServeMux
	Config  *config.Config
	Service *Service
	Keys    *apikey.Service
}

func registerHandlers(p handlerParams) error {
	if err := p.Mux.HandlePath(http.MethodPost, "/v1/tenants/{tenant_id}/usage",
		middleware.RequireInstanceKey(p.Keys.Verifier(apikey.ScopeUsageWrite), middleware.Handle(p.Service.handleIngest))); err != nil {
		return err
	}
	return p.Mux.HandlePath(http.MethodGet, "/v1/tenants/{tenant_id}/usage",
		middleware.RequirePlatformKey(p.Config.Platform.APIKey, middleware.Handle(p.Service.handleList)))
}
