package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"ispbss/pkg/errutil"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const (
	HeaderPlatformAPIKey = "X-Platform-API-Key"
	HeaderInstanceAPIKey = "X-Instance-API-Key"
	HeaderSignature      = "X-Signature"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// HandlerFunc is a runtime.HandlerFunc that reports failures as errors.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, params map[string]string) error

// Handle adapts h to runtime.HandlerFunc, rendering returned errors with
// WriteError.
func Handle(h HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if err := h(w, r, params); err != nil {
			WriteError(w, err)
		}
	}
}

// RequirePlatformKey rejects requests whose X-Platform-API-Key does not
// match key. An empty key rejects everything.
func RequirePlatformKey(key string, next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		got := r.Header.Get(HeaderPlatformAPIKey)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			WriteError(w, errutil.Unauthorized("invalid platform api key", nil))
			return
		}
		next(w, r, params)
	}
}

// KeyVerifier authenticates an instance API key for a tenant.
type KeyVerifier interface {
	Verify(ctx context.Context, tenantID, presented string) error
}

// RequireInstanceKey authenticates X-Instance-API-Key against the tenant_id
// path parameter.
func RequireInstanceKey(v KeyVerifier, next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if err := v.Verify(r.Context(), params["tenant_id"], r.Header.Get(HeaderInstanceAPIKey)); err != nil {
			WriteError(w, err)
			return
		}
		next(w, r, params)
	}
}
