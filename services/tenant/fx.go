package tenant

import (
	"net/http"

	"ispbss/pkg/config"
	"ispbss/pkg/middleware"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.module",
	fx.Provide(NewService),
)

var ServerModule = fx.Module("tenant.server",
	Module,
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *runtime.ServeMux, cfg *config.Config, s *Service) error {
	key := cfg.Platform.APIKey
	routes := []struct {
		method, path string
		h            middleware.HandlerFunc
	}{
		{http.MethodPost, "/v1/tenants", s.handleCreate},
		{http.MethodGet, "/v1/tenants/{tenant_id}", s.handleGet},
		{http.MethodPut, "/v1/tenants/{tenant_id}/instance", s.handleSetInstance},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, middleware.RequirePlatformKey(key, middleware.Handle(rt.h))); err != nil {
			return err
		}
	}
	return nil
}
