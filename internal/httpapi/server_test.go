package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/lotflow/internal/auth"
	"github.com/yourorg/lotflow/internal/clock"
	"github.com/yourorg/lotflow/internal/evidence"
	"github.com/yourorg/lotflow/internal/label"
	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store/memstore"
	"github.com/yourorg/lotflow/internal/workflow"
)

var (
	testSecret  = []byte("0123456789abcdef0123456789abcdef")
	vendor      = auth.Identity{ActorID: "V1", DisplayName: "Vendor One", Role: lot.RoleVendor}
	depotStaff  = auth.Identity{ActorID: "D1", DisplayName: "Depot One", Role: lot.RoleDepotStaff}
	trackWorker = auth.Identity{ActorID: "T1", DisplayName: "Track One", Role: lot.RoleTrackWorker}
	inspector   = auth.Identity{ActorID: "I1", DisplayName: "Inspector One", Role: lot.RoleInspector}
	admin       = auth.Identity{ActorID: "A1", DisplayName: "Admin", Role: lot.RoleAdmin}
)

type fakeRenderer struct {
	fail bool
	got  label.Payload
}

func (f *fakeRenderer) ContentType() string { return "application/pdf" }

func (f *fakeRenderer) Render(_ context.Context, p label.Payload) ([]byte, error) {
	if f.fail {
		return nil, errors.New("chromium unavailable")
	}
	f.got = p
	return []byte("%PDF-1.4 fake"), nil
}

type harness struct {
	t        *testing.T
	handler  http.Handler
	jwt      *auth.JWTResolver
	clock    *clock.Fake
	renderer *fakeRenderer
	evidence *evidence.InMemoryStorage
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Now().UTC())
	jr, err := auth.NewJWTResolver(testSecret, "lotflow", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	keys := auth.NewInMemoryKeyStore(auth.Config{APIKeyHashAlgorithm: "bcrypt", BcryptCost: 4}, nil)
	ev := evidence.NewInMemoryStorage()
	engine := workflow.NewEngine(memstore.New(), workflow.Config{},
		workflow.WithClock(clk), workflow.WithLogger(logger), workflow.WithEvidence(ev))
	r := &fakeRenderer{}
	srv := New(cfg, Deps{
		Engine:       engine,
		Auth:         auth.NewAuthenticator(jr, keys, auth.NewRateLimiter(100, time.Minute, nil), logger),
		Keys:         keys,
		Evidence:     ev,
		Renderer:     r,
		LabelBaseURL: "https://lots.example.com",
		Clock:        clk,
		Logger:       logger,
	})
	return &harness{t: t, handler: srv.Handler(), jwt: jr, clock: clk, renderer: r, evidence: ev}
}

func (h *harness) do(method, path string, as *auth.Identity, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			h.t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		tok, err := h.jwt.Issue(*as, time.Hour)
		if err != nil {
			h.t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

func (h *harness) createLot() lot.Lot {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/lots", &vendor, map[string]any{
		"name": "Rail clips", "batchNumber": "B-7", "manufactureDate": "2025-01-10",
	})
	if rec.Code != http.StatusCreated {
		h.t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return decode[lot.Lot](h.t, rec)
}

func TestCreateAndWorkflow(t *testing.T) {
	h := newHarness(t, Config{})
	l := h.createLot()
	if l.ManufactureDate == nil || l.ManufactureDate.Format("2006-01-02") != "2025-01-10" {
		t.Fatalf("manufactureDate = %v", l.ManufactureDate)
	}

	rec := h.do(http.MethodPost, "/lots/"+l.ID+"/status", &depotStaff, map[string]string{"status": "accepted", "notes": "sample ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = h.do(http.MethodPost, "/lots/"+l.ID+"/installations", &trackWorker, map[string]string{
		"location": "Section A", "section": "Track 1", "installationDate": "2025-03-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("install status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = h.do(http.MethodPost, "/lots/"+l.ID+"/replacement-requests", &inspector, map[string]string{
		"reason": "defective", "description": "cracked",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("replacement status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rr := decode[replacementResponse](t, rec)
	if rr.Request.Status != lot.ReplacementPending || len(rr.Lot.AuditTrail) != 3 {
		t.Fatalf("replacement response = %+v", rr)
	}

	rec = h.do(http.MethodPost, "/replacement-requests/"+rr.Request.ID+"/review", &depotStaff, map[string]string{"decision": "approved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("review status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = h.do(http.MethodPost, "/replacement-requests/"+rr.Request.ID+"/complete", &depotStaff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decode[lot.ReplacementRequest](t, rec); got.Status != lot.ReplacementCompleted {
		t.Fatalf("status = %s", got.Status)
	}

	rec = h.do(http.MethodGet, "/lots/"+l.ID+"/audit?action=status_updated,installation_recorded", &inspector, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	if rep := decode[workflow.AuditReport](t, rec); len(rep.Entries) != 2 || rep.Total != 3 || rep.BrokenAt != 0 {
		t.Fatalf("audit report = %+v", rep)
	}

	rec = h.do(http.MethodGet, "/me/history", &inspector, nil)
	hist := decode[historyResponse](t, rec)
	if len(hist.Entries) != 1 || hist.Entries[0].TargetID != rr.Request.ID {
		t.Fatalf("history = %+v", hist)
	}
}

func TestErrorEnvelope(t *testing.T) {
	h := newHarness(t, Config{})
	l := h.createLot()

	tests := []struct {
		name   string
		method string
		path   string
		as     *auth.Identity
		body   any
		status int
		code   string
	}{
		{"vendor transition", http.MethodPost, "/lots/" + l.ID + "/status", &vendor, map[string]string{"status": "accepted"}, http.StatusForbidden, "FORBIDDEN"},
		{"invalid status", http.MethodPost, "/lots/" + l.ID + "/status", &depotStaff, map[string]string{"status": "shipped"}, http.StatusBadRequest, "INVALID_STATUS"},
		{"invalid condition", http.MethodPost, "/lots/" + l.ID + "/inspections", &inspector, map[string]string{"condition": "invalid"}, http.StatusBadRequest, "INVALID_CONDITION"},
		{"missing section", http.MethodPost, "/lots/" + l.ID + "/installations", &trackWorker, map[string]string{"location": "Yard"}, http.StatusBadRequest, "MISSING_FIELDS"},
		{"invalid reason", http.MethodPost, "/lots/" + l.ID + "/replacement-requests", &inspector, map[string]string{"reason": "bored", "description": "x"}, http.StatusBadRequest, "INVALID_REASON"},
		{"unknown lot", http.MethodGet, "/lots/missing", &depotStaff, nil, http.StatusNotFound, "NOT_FOUND"},
		{"unauthenticated", http.MethodPost, "/lots", nil, map[string]string{"name": "x"}, http.StatusUnauthorized, "AUTH_REQUIRED"},
		{"bad json", http.MethodPost, "/lots", &vendor, "not an object", http.StatusBadRequest, "BAD_JSON"},
		{"bad audit filter", http.MethodGet, "/lots/" + l.ID + "/audit?action=deleted", &depotStaff, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(tt.method, tt.path, tt.as, tt.body, "X-Correlation-Id", "corr-"+tt.code)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.status, rec.Body.String())
			}
			body := decode[ErrorBody](t, rec)
			if body.Code != tt.code {
				t.Errorf("code = %s, want %s", body.Code, tt.code)
			}
			if rec.Header().Get("X-Correlation-Id") != "corr-"+tt.code {
				t.Errorf("correlation header = %q", rec.Header().Get("X-Correlation-Id"))
			}
		})
	}

	rec := h.do(http.MethodGet, "/lots/"+l.ID, &depotStaff, nil)
	if got := decode[lot.Lot](t, rec); len(got.AuditTrail) != 0 {
		t.Fatalf("failed requests appended %d entries", len(got.AuditTrail))
	}
}

func TestTokenAccessFlow(t *testing.T) {
	h := newHarness(t, Config{ValidationsPerMinute: 100})
	l := h.createLot()

	rec := h.do(http.MethodPost, "/lots/"+l.ID+"/access-tokens", &vendor, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("token response must not be cached")
	}
	issued := decode[issueTokenResponse](t, rec)
	if !strings.HasPrefix(issued.Token, lot.TokenPrefix) {
		t.Fatalf("token = %q", issued.Token)
	}
	p, err := label.DecodePayload(issued.LabelCode)
	if err != nil || p.LotID != l.ID || !strings.HasPrefix(p.AccessURL, "https://lots.example.com/lots/"+l.ID+"?token=") {
		t.Fatalf("label payload = %+v, %v", p, err)
	}

	rec = h.do(http.MethodGet, "/lots/"+l.ID+"?token="+issued.Token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("token read status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = h.do(http.MethodGet, "/lots/"+l.ID, nil, nil, "X-Access-Token", issued.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("header token read status = %d", rec.Code)
	}
	rec = h.do(http.MethodGet, "/lots/"+l.ID+"/access-tokens/validate?token="+issued.Token, nil, nil)
	if v := decode[workflow.TokenValidation](t, rec); !v.Valid {
		t.Fatalf("validation = %+v", v)
	}

	h.clock.Advance(24*time.Hour + time.Second)
	rec = h.do(http.MethodGet, "/lots/"+l.ID+"/access-tokens/validate?token="+issued.Token, nil, nil)
	if v := decode[workflow.TokenValidation](t, rec); v.Valid || v.Reason != lot.KindTokenExpired {
		t.Fatalf("validation after expiry = %+v", v)
	}
	rec = h.do(http.MethodGet, "/lots/"+l.ID+"?token="+issued.Token, nil, nil)
	if rec.Code != http.StatusUnauthorized || decode[ErrorBody](t, rec).Code != "TOKEN_EXPIRED" {
		t.Fatalf("expired read status = %d", rec.Code)
	}
	rec = h.do(http.MethodGet, "/lots/"+l.ID, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous read status = %d", rec.Code)
	}

	rec = h.do(http.MethodDelete, "/lots/"+l.ID+"/access-tokens/expired", &vendor, nil)
	if pr := decode[pruneResponse](t, rec); pr.Removed != 1 {
		t.Fatalf("prune = %+v", pr)
	}
}

func TestIssueTokenStreamsLabel(t *testing.T) {
	h := newHarness(t, Config{})
	l := h.createLot()

	rec := h.do(http.MethodPost, "/lots/"+l.ID+"/access-tokens", &vendor, nil, "Accept", "application/pdf")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("body is not the rendered artifact")
	}
	if h.renderer.got.LotID != l.ID || h.renderer.got.Name != "Rail clips" {
		t.Errorf("renderer payload = %+v", h.renderer.got)
	}

	h.renderer.fail = true
	rec = h.do(http.MethodPost, "/lots/"+l.ID+"/access-tokens", &vendor, nil, "Accept", "application/pdf")
	if rec.Code != http.StatusCreated || !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("fallback status = %d, type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if decode[issueTokenResponse](t, rec).Token == "" {
		t.Error("fallback lost the token")
	}
}

func TestTokenValidationRateLimited(t *testing.T) {
	h := newHarness(t, Config{ValidationsPerMinute: 2})
	l := h.createLot()
	path := "/lots/" + l.ID + "/access-tokens/validate?token=lft_nope"
	for i := 0; i < 2; i++ {
		if rec := h.do(http.MethodGet, path, nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := h.do(http.MethodGet, path, nil, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("status = %d, retry-after = %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestEvidenceUpload(t *testing.T) {
	h := newHarness(t, Config{})
	l := h.createLot()

	rec := h.do(http.MethodPost, "/lots/"+l.ID+"/evidence-uploads", &vendor, map[string]string{"fileName": "a.jpg"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("vendor status = %d", rec.Code)
	}
	rec = h.do(http.MethodPost, "/lots/"+l.ID+"/evidence-uploads", &inspector, map[string]string{"fileName": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty name status = %d", rec.Code)
	}
	rec = h.do(http.MethodPost, "/lots/"+l.ID+"/evidence-uploads", &inspector, map[string]string{"fileName": "crack.jpg"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	up := decode[evidence.Upload](t, rec)
	if !evidence.BelongsTo(up.Key, l.ID) || up.URL == "" {
		t.Fatalf("upload = %+v", up)
	}

	body := map[string]any{"condition": "replace", "photos": []string{up.Key}}
	if rec := h.do(http.MethodPost, "/lots/"+l.ID+"/inspections", &inspector, body); rec.Code != http.StatusBadRequest {
		t.Fatalf("inspection before upload status = %d", rec.Code)
	}
	if err := h.evidence.Put(context.Background(), up.Key, []byte("jpeg")); err != nil {
		t.Fatal(err)
	}
	if rec := h.do(http.MethodPost, "/lots/"+l.ID+"/inspections", &inspector, body); rec.Code != http.StatusCreated {
		t.Fatalf("inspection status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestServiceAccountRoutes(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.do(http.MethodPost, "/service-accounts", &depotStaff, map[string]string{"name": "scanner", "role": "inspector"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d", rec.Code)
	}
	rec = h.do(http.MethodPost, "/service-accounts", &admin, map[string]string{"name": "scanner", "displayName": "Gate scanner", "role": "inspector"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	created := decode[auth.CreateKeyResponse](t, rec)

	l := h.createLot()
	req := httptest.NewRequest(http.MethodPost, "/lots/"+l.ID+"/inspections", strings.NewReader(`{"condition":"good"}`))
	req.Header.Set("X-API-Key", created.RawKey)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("api key inspection status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := decode[lot.Lot](t, rec)
	if got.AuditTrail[0].ActorName != "Gate scanner" {
		t.Errorf("actor name = %q", got.AuditTrail[0].ActorName)
	}
}

func TestHealthzAssignsCorrelationID(t *testing.T) {
	h := newHarness(t, Config{})
	rec := h.do(http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Correlation-Id") == "" {
		t.Fatalf("status = %d, corr = %q", rec.Code, rec.Header().Get("X-Correlation-Id"))
	}
}
