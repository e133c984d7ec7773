package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"relief.org/internal/admission"
	"relief.org/internal/obs"
	"relief.org/internal/pipeline"
	"relief.org/internal/validate"
)

type validationResponse struct {
	Status     string               `json:"status"`
	Inspector  string               `json:"inspector"`
	Errors     []string             `json:"errors"`
	Violations []validate.Violation `json:"violations"`
	RequestID  string               `json:"request_id,omitempty"`
}

// handleError maps pipeline errors onto HTTP responses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	if f, ok := validate.AsFailure(err); ok {
		code := http.StatusBadRequest
		if f.Security() {
			code = http.StatusForbidden
		}
		writeJSON(w, code, validationResponse{
			Status:     f.Status(),
			Inspector:  f.Inspector(),
			Errors:     f.Messages(),
			Violations: f.Violations,
			RequestID:  RequestIDFromContext(r.Context()),
		})
		return
	}
	if rej, ok := admission.AsRejection(err); ok {
		writeThrottled(w, r, rej.Decision)
		return
	}

	switch pipeline.Classify(err) {
	case pipeline.KindValidationFailed:
		writeError(w, r, http.StatusBadRequest, err.Error())
	case pipeline.KindForbidden:
		writeError(w, r, http.StatusForbidden, "You can only update incidents assigned to you")
	case pipeline.KindNotFound:
		writeError(w, r, http.StatusNotFound, err.Error())
	case pipeline.KindInsufficientStock, pipeline.KindConflict:
		writeError(w, r, http.StatusConflict, err.Error())
	case pipeline.KindStoreUnavailable:
		obs.Logger().Error("store_unavailable", "request_id", RequestIDFromContext(r.Context()), "path", r.URL.Path, "error", err.Error())
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		obs.Logger().Error("internal_error", "request_id", RequestIDFromContext(r.Context()), "path", r.URL.Path, "error", err.Error())
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"message": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
