package httpapi

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"relief.org/internal/admission"
)

// admissionExempt paths are probes and scrapes that must not consume quota.
var admissionExempt = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// admit runs the named admission policy before next.
func (a *API) admit(policy string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || admissionExempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		d := a.pipeline.Admit(r.Context(), a.actor(r), policy, r.URL.Path, r.Method)
		if !d.Allowed {
			writeThrottled(w, r, d)
			return
		}
		setRateHeaders(w, d)
		next.ServeHTTP(w, r)
	})
}

// shed refuses requests while the process is overloaded.
func (a *API) shed(next http.Handler) http.Handler {
	if a.shedder == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || admissionExempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		release, ov := a.shedder.Enter()
		if ov != nil {
			a.pipeline.Shed(r.Context(), a.actor(r), ov, r.URL.Path, r.Method)
			w.Header().Set("Retry-After", strconv.Itoa(ov.RetryAfterSeconds()))
			payload := map[string]any{
				"status":    ov.Status,
				"inspector": "SystemInspector",
				"message":   ov.Message,
			}
			if rid := RequestIDFromContext(r.Context()); rid != "" {
				payload["request_id"] = rid
			}
			writeJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
		defer release()
		next.ServeHTTP(w, r)
	})
}

// inspect scans the query string and path for injection markers. Bodies are
// checked by the pipeline when decoded.
func (a *API) inspect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || admissionExempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		fields := url.Values{}
		for k, vs := range r.URL.Query() {
			if k == "token" {
				continue
			}
			fields[k] = vs
		}
		fields.Add("path", r.URL.Path)
		if err := a.pipeline.InspectRequest(r.Context(), a.actor(r), fields); err != nil {
			handleError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setRateHeaders(w http.ResponseWriter, d admission.Decision) {
	if d.Bypassed || d.Limit <= 0 {
		return
	}
	w.Header().Set("RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		reset := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
		if reset < 0 {
			reset = 0
		}
		w.Header().Set("RateLimit-Reset", strconv.Itoa(reset))
	}
}

func writeThrottled(w http.ResponseWriter, r *http.Request, d admission.Decision) {
	setRateHeaders(w, d)
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	payload := map[string]any{
		"message": d.Message,
		"code":    d.Code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusTooManyRequests, payload)
}
