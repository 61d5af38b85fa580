package enforcer

import (
	"encoding/json"
	"net/http"
	"time"

	"ispbss/pkg/errutil"
	"ispbss/pkg/middleware"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

type syncRequest struct {
	LicenseToken string `json:"license_token"`
}

type syncResponse struct {
	TenantID  string    `json:"tenant_id"`
	Version   int64     `json:"version"`
	ExpiresAt time.Time `json:"expires_at"`
	State     State     `json:"state"`
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errutil.BadRequest("invalid request body", err)
	}
	if req.LicenseToken == "" {
		return errutil.ValidationFailed("invalid license sync", nil, errutil.WithDetails(errutil.Detail{
			Field: "license_token", Message: "required",
		}))
	}

	tok, err := s.Sync(r.Context(), req.LicenseToken)
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusOK, syncResponse{
		TenantID:  tok.TenantID,
		Version:   tok.Version,
		ExpiresAt: tok.ExpiresAt,
		State:     stateOf(tok, s.now()),
	})
	return nil
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	cs, err := s.CheckSubscriberCap(r.Context())
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, cs)
	return nil
}

// RequireFeatureHTTP rejects requests with 403 unless feature is licensed.
func (s *Service) RequireFeatureHTTP(feature string, next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if err := s.RequireFeature(r.Context(), feature); err != nil {
			middleware.WriteError(w, err)
			return
		}
		next(w, r, params)
	}
}
