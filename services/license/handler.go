package license

import (
	"encoding/json"
	"net/http"
	"strconv"

	"ispbss/pkg/errutil"
	"ispbss/pkg/middleware"
)

func (s *Service) handleIssue(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	lic, err := s.IssueLicense(r.Context(), params["tenant_id"])
	if err != nil {
		return err
	}

	pushed := s.PushLicenseToInstance(r.Context(), lic.TenantID)
	middleware.WriteJSON(w, http.StatusCreated, map[string]any{
		"license": lic,
		"pushed":  pushed,
	})
	return nil
}

type planChangeRequest struct {
	PlanID string `json:"plan_id"`
}

func (s *Service) handlePlanChange(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	var req planChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errutil.BadRequest("invalid request body", err)
	}
	if req.PlanID == "" {
		return errutil.ValidationFailed("invalid plan change", nil, errutil.WithDetails(errutil.Detail{Field: "plan_id", Message: "required"}))
	}

	lic, err := s.OnPlanChange(r.Context(), params["tenant_id"], req.PlanID)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, lic)
	return nil
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	days := 0
	if v := r.URL.Query().Get("days_before_expiry"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return errutil.BadRequest("days_before_expiry must be a positive integer", err)
		}
		days = n
	}

	refreshed := s.RefreshExpiringLicenses(r.Context(), days)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"refreshed": refreshed})
	return nil
}

// handlePull serves the instance pull endpoint.
func (s *Service) handlePull(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	signed, err := s.GetSignedLicense(r.Context(), params["tenant_id"])
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, pushRequest{LicenseToken: signed})
	return nil
}
