package subscriber

import (
	"encoding/json"
	"net/http"
	"strconv"

	"ispbss/pkg/errutil"
	"ispbss/pkg/middleware"
)

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var req CreateSubscriberRequest
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

type statusRequest struct {
	Status Status `json:"status"`
}

func (s *Service) handleSetStatus(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errutil.BadRequest("invalid request body", err)
	}

	sub, err := s.SetStatus(r.Context(), params["subscriber_id"], req.Status)
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, sub)
	return nil
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	subs, err := s.List(r.Context(), Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		return errutil.Internal("failed to list subscribers", err)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"subscribers": subs})
	return nil
}
