package tenant

import (
	"encoding/json"
	"net/http"

	"ispbss/pkg/errutil"
	"ispbss/pkg/middleware"
)

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errutil.BadRequest("invalid request body", err)
	}

	out, err := s.Create(r.Context(), req)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusCreated, out)
	return nil
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	t, err := s.Get(r.Context(), params["tenant_id"])
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, t)
	return nil
}

type instanceRequest struct {
	InstanceURL string `json:"instance_url"`
}

func (s *Service) handleSetInstance(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	var req instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errutil.BadRequest("invalid request body", err)
	}

	t, err := s.UpdateInstanceURL(r.Context(), params["tenant_id"], req.InstanceURL)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, t)
	return nil
}
