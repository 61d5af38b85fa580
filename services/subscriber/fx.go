package subscriber

import (
	"net/http"

	"ispbss/pkg/config"
	"ispbss/pkg/licensing"
	"ispbss/pkg/middleware"
	"ispbss/services/enforcer"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
)

var Module = fx.Module("subscriber.module",
	fx.Provide(
		NewStore,
		func(s *Store) enforcer.Counter { return s },
		func(e *enforcer.Service) Admitter { return e },
		NewService,
	),
)

var ServerModule = fx.Module("subscriber.server",
	Module,
	fx.Invoke(registerHandlers),
)

// The subscriber API is itself gated on the api_access feature.
func registerHandlers(mux *runtime.ServeMux, cfg *config.Config, s *Service, e *enforcer.Service) error {
	key := cfg.Platform.APIKey
	routes := []struct {
		method, path string
		h            middleware.HandlerFunc
	}{
		{http.MethodPost, "/v1/subscribers", s.handleCreate},
		{http.MethodGet, "/v1/subscribers", s.handleList},
		{http.MethodPut, "/v1/subscribers/{subscriber_id}/status", s.handleSetStatus},
	}
	for _, rt := range routes {
		h := middleware.RequirePlatformKey(key, e.RequireFeatureHTTP(licensing.FeatureAPIAccess, middleware.Handle(rt.h)))
		if err := mux.HandlePath(rt.method, rt.path, h); err != nil {
			return err
		}
	}
	return nil
}
