package plan

import (
	"net/http"

	"ispbss/pkg/config"
	"ispbss/pkg/middleware"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.module",
	fx.Provide(NewService),
)

var ServerModule = fx.Module("plan.server",
	Module,
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *runtime.ServeMux, cfg *config.Config, s *Service) error {
	key := cfg.Platform.APIKey
	routes := []struct {
		method, path string
		h            middleware.HandlerFunc
	}{
		{http.MethodGet, "/v1/plans", s.handleList},
		{http.MethodPost, "/v1/plans", s.handleCreate},
		{http.MethodGet, "/v1/plans/{plan_id}", s.handleGet},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, middleware.RequirePlatformKey(key, middleware.Handle(rt.h))); err != nil {
			return err
		}
	}
	return nil
}
