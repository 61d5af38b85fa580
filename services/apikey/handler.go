package apikey

import (
	"encoding/json"
	"net/http"
	"time"

	"ispbss/pkg/errutil"
	"ispbss/pkg/middleware"
)

type issueRequest struct {
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Service) handleIssue(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	var req issueRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return errutil.BadRequest("invalid request body", err)
		}
	}

	issued, err := s.Issue(r.Context(), params["tenant_id"], req.Scopes, req.ExpiresAt)
	if err != nil {
		return errutil.Internal("failed to issue api key", err)
	}
	middleware.WriteJSON(w, http.StatusCreated, issued)
	return nil
}

func (s *Service) handleRevoke(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	if err := s.Revoke(r.Context(), params["key_id"]); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
