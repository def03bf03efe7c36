package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campuswallet.org/internal/auth"
)

func newAuthAPI(t *testing.T) (*API, *auth.TokenIssuer) {
	t.Helper()
	tokens, err := auth.NewTokenIssuer("test-secret")
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	return &API{tokens: tokens}, tokens
}

func TestWithAuthPutsIdentityOnContext(t *testing.T) {
	a, tokens := newAuthAPI(t)
	want := auth.Identity{Subject: "2021-0001", Role: auth.RoleStudent, AccountID: "ACC-1"}
	tok, err := tokens.Issue(want, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var got auth.Identity
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = identity(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/entries", nil)
	req.Header.Set(authHeader, "bearer "+tok)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got != want {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestWithAuthRejectsBadTokens(t *testing.T) {
	a, _ := newAuthAPI(t)
	other, err := auth.NewTokenIssuer("another-secret")
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	forged, err := other.Issue(auth.Identity{Subject: "x", Role: auth.RoleFinanceAdmin}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer " + forged} {
		req := httptest.NewRequest(http.MethodGet, "/v1/cash-requests", nil)
		if header != "" {
			req.Header.Set(authHeader, header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rr.Code)
		}
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Fatalf("header %q: expected WWW-Authenticate header set", header)
		}
	}
}

func TestPublicPathsSkipAuth(t *testing.T) {
	a, _ := newAuthAPI(t)
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for _, path := range []string{"/healthz", "/metrics", "/v1/verification/codes"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, rr.Code)
		}
	}
}
