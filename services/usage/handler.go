package usage

import (
	"io"
	"net/http"
	"strconv"

	"ispbss/pkg/errutil"
	"ispbss/pkg/middleware"
)

const maxReportBytes = 1 << 20

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReportBytes))
	if err != nil {
		return errutil.BadRequest("failed to read request body", err)
	}

	snap, err := s.Ingest(r.Context(), params["tenant_id"], body,
		r.Header.Get(middleware.HeaderSignature),
		r.Header.Get(middleware.HeaderIdempotencyKey),
	)
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]any{
		"id":              snap.ID,
		"signature_valid": snap.SignatureValid,
	})
	return nil
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snaps, err := s.List(r.Context(), params["tenant_id"], limit)
	if err != nil {
		return errutil.Internal("failed to list usage", err)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
	return nil
}
