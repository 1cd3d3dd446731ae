package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yourorg/lotflow/internal/lot"
)

func newTestAuthenticator(t *testing.T, failures int) (*Authenticator, *JWTResolver, *InMemoryKeyStore) {
	t.Helper()
	jr, err := NewJWTResolver(testSecret, "lotflow", 0, nil)
	if err != nil {
		t.Fatalf("NewJWTResolver() error = %v", err)
	}
	keys := NewInMemoryKeyStore(testConfig(), nil)
	return NewAuthenticator(jr, keys, NewRateLimiter(failures, time.Minute, nil), nil), jr, keys
}

func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(id)
	})
}

func TestMiddlewareBearerJWT(t *testing.T) {
	a, jr, _ := newTestAuthenticator(t, 10)
	token, _ := jr.Issue(Identity{ActorID: "T1", DisplayName: "Track One", Role: lot.RoleTrackWorker}, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Middleware(identityEcho()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got Identity
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ActorID != "T1" || got.Role != lot.RoleTrackWorker {
		t.Errorf("identity = %+v", got)
	}
}

func TestMiddlewareAPIKey(t *testing.T) {
	a, _, keys := newTestAuthenticator(t, 10)
	_, rawKey, err := keys.CreateKey(context.Background(), "scanner", "Scanner", lot.RoleInspector, nil)
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("X-API-Key", rawKey) },
		func(r *http.Request) { r.Header.Set("Authorization", "ApiKey "+rawKey) },
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		set(req)
		rec := httptest.NewRecorder()
		a.Middleware(identityEcho()).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	}
}

func TestMiddlewareAnonymousPassesThrough(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, 10)
	rec := httptest.NewRecorder()
	a.Middleware(identityEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.Middleware(RequireIdentity(identityEcho())).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("RequireIdentity status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareInvalidCredentials(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, 2)
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.9:5555"
		req.Header.Set("X-Correlation-Id", "corr-1")
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		a.Middleware(identityEcho()).ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body AuthError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "INVALID_TOKEN" || body.CorrID != "corr-1" {
		t.Errorf("body = %+v", body)
	}
	if rec.Header().Get("X-Correlation-Id") != "corr-1" {
		t.Error("correlation id not echoed")
	}

	send()
	if rec := send(); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("after repeated failures status = %d, want 429", rec.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	h := RequireRoles(lot.RoleDepotStaff, lot.RoleAdmin)(identityEcho())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), Identity{ActorID: "V1", Role: lot.RoleVendor}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("vendor status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), Identity{ActorID: "A1", Role: lot.RoleAdmin}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", rec.Code)
	}
}
