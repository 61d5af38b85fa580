package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"ispbss/pkg/errutil"

	"go.uber.org/zap"
)

// WriteJSON writes v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// WriteError renders err as {"error":{code,message,details}}. Errors that are
// neither a BaseError nor carry a Status() are reported as internal.
func WriteError(w http.ResponseWriter, err error) {
	var base errutil.BaseError
	if errors.As(err, &base) {
		WriteJSON(w, base.Code.HTTPStatus(), base.JSON())
		return
	}

	var coder interface{ Status() errutil.CoreStatus }
	if errors.As(err, &coder) {
		be := errutil.BaseError{Code: coder.Status(), Message: err.Error()}
		WriteJSON(w, be.Code.HTTPStatus(), be.JSON())
		return
	}

	zap.L().Error("unhandled error", zap.Error(err))
	be := errutil.BaseError{Code: errutil.StatusInternal, Message: "internal error"}
	WriteJSON(w, http.StatusInternalServerError, be.JSON())
}
