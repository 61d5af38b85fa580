package health

import (
	"context"
	"net/http"

	"ispbss/pkg/middleware"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Module serves liveness and readiness on the HTTP mux.
var Module = fx.Module("health",
	fx.Provide(ProvideHealth),
	fx.Invoke(RegisterHTTP),
)

// GRPCModule additionally registers the grpc.health.v1 service.
var GRPCModule = fx.Module("health.grpc",
	Module,
	fx.Invoke(RegisterGRPC),
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type Checker struct {
	db    *gorm.DB
	redis *redis.Client
	grpc_health_v1.UnimplementedHealthServer
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) *Checker {
	return &Checker{
		db:    p.DB,
		redis: p.Redis,
	}
}

func (h *Checker) Liveness() *Health {
	return &Health{Status: StatusHealthy, Message: "OK"}
}

// Readiness pings every configured dependency. The overall status is
// unhealthy when any of them fails.
func (h *Checker) Readiness(ctx context.Context) *Health {
	out := &Health{Status: StatusHealthy, Message: "OK"}

	if h.db != nil {
		dep := Dependency{Name: h.db.Dialector.Name(), Status: StatusHealthy, Message: "OK"}
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
		}
		out.Deps = append(out.Deps, dep)
	}

	if h.redis != nil {
		dep := Dependency{Name: "redis", Status: StatusHealthy, Message: "OK"}
		if err := h.redis.Ping(ctx).Err(); err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
		}
		out.Deps = append(out.Deps, dep)
	}

	for _, d := range out.Deps {
		if d.Status != StatusHealthy {
			out.Status = StatusUnhealthy
			out.Message = "dependency unavailable"
		}
	}

	return out
}

func RegisterHTTP(mux *runtime.ServeMux, h *Checker) error {
	if err := mux.HandlePath(http.MethodGet, "/livez", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		middleware.WriteJSON(w, http.StatusOK, h.Liveness())
	}); err != nil {
		zap.L().Error("failed to register liveness endpoint", zap.Error(err))
		return err
	}

	return mux.HandlePath(http.MethodGet, "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		res := h.Readiness(r.Context())
		code := http.StatusOK
		if res.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		middleware.WriteJSON(w, code, res)
	})
}

func RegisterGRPC(server *grpc.Server, h *Checker) {
	grpc_health_v1.RegisterHealthServer(server, h)
}

func (h *Checker) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if h.Readiness(ctx).Status != StatusHealthy {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

func (h *Checker) Watch(_ *grpc_health_v1.HealthCheckRequest, _ grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported")
}
