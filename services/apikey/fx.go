package apikey

import (
	"net/http"

	"ispbss/pkg/config"
	"ispbss/pkg/middleware"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.module",
	fx.Provide(NewService),
)

var ServerModule = fx.Module("apikey.server",
	Module,
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *runtime.ServeMux, cfg *config.Config, s *Service) error {
	key := cfg.Platform.APIKey
	if err := mux.HandlePath(http.MethodPost, "/v1/tenants/{tenant_id}/api-keys",
		middleware.RequirePlatformKey(key, middleware.Handle(s.handleIssue))); err != nil {
		return err
	}
	return mux.HandlePath(http.MethodDelete, "/v1/api-keys/{key_id}",
		middleware.RequirePlatformKey(key, middleware.Handle(s.handleRevoke)))
}
