package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"relief.org/internal/auth"
)

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole(auth.RoleAuthority)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), auth.Principal{ActorID: "user-1", Role: auth.RoleAuthority}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole(auth.RoleAuthority)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), auth.Principal{ActorID: "user-1", Role: auth.RoleCitizen}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingPrincipal(t *testing.T) {
	handler := RequireRole(auth.RoleAuthority)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc": true,
		"bearer abc": true,
		"Basic abc":  false,
		"Bearer   ":  false,
		"":           false,
		"Token abc":  false,
	}
	for header, ok := range cases {
		_, err := extractBearerToken(header)
		if (err == nil) != ok {
			t.Fatalf("header %q: expected ok=%v, got err=%v", header, ok, err)
		}
	}
}

func TestTokenFromQueryOnlyForPushChannels(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events?token=abc", nil)
	if got := tokenFromQuery(req); got != "Bearer abc" {
		t.Fatalf("expected token from query, got %q", got)
	}
	req = httptest.NewRequest(http.MethodGet, "/resources?token=abc", nil)
	if got := tokenFromQuery(req); got != "" {
		t.Fatalf("query token must be ignored outside push channels, got %q", got)
	}
}
