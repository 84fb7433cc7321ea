package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/mealmood/internal/model"
)

// maxBodyBytes leaves room for a base64 photo up to photo.MaxImageBytes.
const maxBodyBytes = 12 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error from the foodlog taxonomy onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrProviderFailure):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrStoreFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Body builds the error body for err. Validation messages are returned as
// is; everything else gets a fixed message so internals stay out of
// responses.
func Body(err error) ErrorBody {
	code := model.ErrorCode(err)
	msg := "internal error"
	switch code {
	case "not_found":
		msg = "entry not found"
	case "validation":
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			msg = ve.Error()
		} else {
			msg = err.Error()
		}
	case "conflict":
		msg = "entry is busy, retry shortly"
	case "provider_failure":
		msg = "meal analysis failed"
	case "store_failure":
		msg = "storage unavailable"
	}
	return ErrorBody{Error: msg, Code: code}
}

// WriteError writes the status and body for err, logging server-side
// failures.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, Body(err))
}

// decodeJSON reads a single JSON object from r into v. Decode failures are
// validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return model.Invalid("", "request body too large")
		case errors.Is(err, io.EOF):
			return model.Invalid("", "request body is required")
		default:
			return model.Invalid("", fmt.Sprintf("invalid JSON: %v", err))
		}
	}
	return nil
}
