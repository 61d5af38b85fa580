package plan

import (
	"encoding/json"
	"net/http"

	"ispbss/pkg/errutil"
	"ispbss/pkg/middleware"
)

func (s *Service) handleList(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	plans, err := s.List(r.Context())
	if err != nil {
		return errutil.Internal("failed to list plans", err)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"plans": plans})
	return nil
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errutil.BadRequest("invalid request body", err)
	}

	p, err := s.Create(r.Context(), req)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusCreated, p)
	return nil
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	p, err := s.Get(r.Context(), params["plan_id"])
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, p)
	return nil
}
