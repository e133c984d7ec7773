package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"relief.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type authErrKey struct{}

// withAuth resolves the bearer token into a principal. It never responds
// itself: an invalid token is remembered so that admission still counts the
// request before authGate refuses it.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.auth == nil || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" {
			header = tokenFromQuery(r)
		}
		if strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		token, err := extractBearerToken(header)
		if err == nil {
			var principal auth.Principal
			principal, err = a.auth.Authenticate(ctx, token)
			if err == nil {
				ctx = auth.ContextWithPrincipal(ctx, principal)
			}
		}
		if err != nil {
			ctx = context.WithValue(ctx, authErrKey{}, err)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authGate refuses requests that presented a bad token.
func authGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err, ok := r.Context().Value(authErrKey{}).(error); ok && err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			msg := "invalid token"
			if !errors.Is(err, auth.ErrInvalidToken) {
				msg = err.Error()
			}
			writeError(w, r, http.StatusUnauthorized, msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits only authenticated principals holding one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if len(roles) > 0 && !principal.HasRole(roles...) {
				writeError(w, r, http.StatusForbidden, "Access denied: insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// tokenFromQuery lets browser push clients, which cannot set headers on
// WebSocket or EventSource requests, pass the token as ?token=.
func tokenFromQuery(r *http.Request) string {
	if r.Method != http.MethodGet || (r.URL.Path != "/ws" && r.URL.Path != "/events") {
		return ""
	}
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return bearer + t
	}
	return ""
}
