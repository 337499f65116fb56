package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"fintrack/internal/core"
)

type resultEnvelope struct {
	Result resultData `json:"result"`
}

type resultData struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind       core.ErrorKind   `json:"kind"`
	Message    string           `json:"message"`
	Violations []core.Violation `json:"violations,omitempty"`
}

const genericStorageMessage = "internal storage error"

// statusFor maps an error kind to its HTTP status.
func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindConflict:
		return http.StatusConflict
	case core.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// errorBodyFor turns err into the public error body. Causes never leak; an
// error without a kind is reported as a generic storage failure.
func errorBodyFor(err error) errorBody {
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		return errorBody{Kind: core.KindStorage, Message: genericStorageMessage}
	}
	return errorBody{Kind: coreErr.Kind, Message: coreErr.Message, Violations: coreErr.Violations}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, errorEnvelope{Error: body})
}
