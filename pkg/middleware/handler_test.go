package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ispbss/pkg/errutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type statusErr struct{}

func (statusErr) Error() string              { return "feature not licensed" }
func (statusErr) Status() errutil.CoreStatus { return errutil.StatusForbidden }

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errutil.Conflict("already processed", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", decodeError(t, rec)["code"])

	rec = httptest.NewRecorder()
	WriteError(rec, statusErr{})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "feature not licensed", decodeError(t, rec)["message"])

	rec = httptest.NewRecorder()
	WriteError(rec, errors.New("db down"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal error", decodeError(t, rec)["message"])
}

func TestRequirePlatformKey(t *testing.T) {
	called := false
	h := RequirePlatformKey("s3cret", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/license/sync", nil)
	rec := httptest.NewRecorder()
	h(rec, req, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, called)

	req.Header.Set(HeaderPlatformAPIKey, "s3cret")
	rec = httptest.NewRecorder()
	h(rec, req, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, called)
}

type verifierFunc func(ctx context.Context, tenantID, presented string) error

func (f verifierFunc) Verify(ctx context.Context, tenantID, presented string) error {
	return f(ctx, tenantID, presented)
}

func TestRequireInstanceKeyUsesPathTenant(t *testing.T) {
	var gotTenant string
	v := verifierFunc(func(_ context.Context, tenantID, presented string) error {
		gotTenant = tenantID
		if presented != "k.s" {
			return errutil.Unauthorized("invalid instance api key", nil)
		}
		return nil
	})

	h := RequireInstanceKey(v, Handle(func(w http.ResponseWriter, _ *http.Request, _ map[string]string) error {
		WriteJSON(w, http.StatusOK, map[string]string{"ok": "true"})
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/t-1/license", nil)
	req.Header.Set(HeaderInstanceAPIKey, "bad")
	rec := httptest.NewRecorder()
	h(rec, req, map[string]string{"tenant_id": "t-1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "t-1", gotTenant)

	req.Header.Set(HeaderInstanceAPIKey, "k.s")
	rec = httptest.NewRecorder()
	h(rec, req, map[string]string{"tenant_id": "t-1"})
	require.Equal(t, http.StatusOK, rec.Code)
}
