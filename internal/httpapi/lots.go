package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/lotflow/internal/auth"
	"github.com/yourorg/lotflow/internal/evidence"
	"github.com/yourorg/lotflow/internal/label"
	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/workflow"
)

// createLot handles POST /lots
func (s *Server) createLot(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	var req createLotRequest
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, "BAD_JSON", err.Error(), false)
		return
	}
	l, err := s.engine.CreateLot(r.Context(), id, req.descriptor())
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusCreated, corrID, l, map[string]string{"Location": "/lots/" + l.ID})
}

// getLot handles GET /lots/{lotId}. Authenticated callers read directly;
// anyone else must present a valid access token.
func (s *Server) getLot(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	lotID := chi.URLParam(r, "lotId")

	if id.ActorID != "" {
		l, err := s.engine.GetLot(r.Context(), id, lotID)
		if err != nil {
			writeError(w, log, corrID, err)
			return
		}
		writeJSON(w, http.StatusOK, corrID, l, nil)
		return
	}

	token := presentedToken(r)
	if token == "" {
		writeErrorCode(w, http.StatusUnauthorized, corrID, "AUTH_REQUIRED", "authentication or access token required", false)
		return
	}
	if ok, retryAfter := s.limiter.Allow(auth.ClientIP(r)); !ok {
		writeRateLimited(w, corrID, retryAfter)
		return
	}
	l, err := s.engine.GetLotWithToken(r.Context(), lotID, token)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, l, nil)
}

// validateToken handles GET /lots/{lotId}/access-tokens/validate
func (s *Server) validateToken(w http.ResponseWriter, r *http.Request) {
	_, corrID, log := s.request(r)
	if ok, retryAfter := s.limiter.Allow(auth.ClientIP(r)); !ok {
		writeRateLimited(w, corrID, retryAfter)
		return
	}
	token := presentedToken(r)
	if token == "" {
		writeErrorCode(w, http.StatusBadRequest, corrID, string(lot.KindMissingFields), "token is required", false)
		return
	}
	v, err := s.engine.ValidateToken(r.Context(), chi.URLParam(r, "lotId"), token)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, v, nil)
}

func presentedToken(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get("X-Access-Token")); t != "" {
		return t
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// auditTrail handles GET /lots/{lotId}/audit
func (s *Server) auditTrail(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	f, err := parseAuditFilter(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, "VALIDATION_ERROR", err.Error(), false)
		return
	}
	rep, err := s.engine.AuditTrail(r.Context(), id, chi.URLParam(r, "lotId"), f)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, rep, nil)
}

func parseAuditFilter(r *http.Request) (workflow.AuditFilter, error) {
	q := r.URL.Query()
	var f workflow.AuditFilter
	for _, raw := range q["action"] {
		for _, part := range strings.Split(raw, ",") {
			a := lot.Action(strings.TrimSpace(part))
			if a == "" {
				continue
			}
			if !a.Valid() {
				return f, fmt.Errorf("unknown action %q", a)
			}
			f.Actions = append(f.Actions, a)
		}
	}
	f.ActorID = strings.TrimSpace(q.Get("actor"))
	var err error
	if f.From, err = parseTimeParam(q.Get("from")); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseTimeParam(q.Get("to")); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("to must not be before from")
	}
	return f, nil
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates.
func parseTimeParam(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 time or YYYY-MM-DD, got %q", v)
	}
	return t, nil
}

// transition handles POST /lots/{lotId}/status
func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	var in lot.TransitionInput
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &in); err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, "BAD_JSON", err.Error(), false)
		return
	}
	l, err := s.engine.Transition(r.Context(), id, chi.URLParam(r, "lotId"), in)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, l, nil)
}

// issueToken handles POST /lots/{lotId}/access-tokens. With
// Accept: application/pdf the rendered label is streamed back; when
// rendering fails the JSON form is returned so the issued token is not lost.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	issued, err := s.engine.IssueAccessToken(r.Context(), id, chi.URLParam(r, "lotId"))
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	payload := label.NewPayload(issued.Lot, issued.Token, s.baseURL)

	if s.renderer != nil && strings.Contains(r.Header.Get("Accept"), s.renderer.ContentType()) {
		artifact, rerr := s.renderer.Render(r.Context(), payload)
		if rerr == nil {
			w.Header().Set("Content-Type", s.renderer.ContentType())
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "lot-"+issued.Lot.ID+"-label.pdf"))
			w.Header().Set("X-Access-Token-Id", issued.Token.Token.ID)
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(artifact)
			return
		}
		log.Warn("label render failed", "lotId", issued.Lot.ID, "error", rerr)
	}

	code, err := payload.Encode()
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusCreated, corrID, issueTokenResponse{
		LotID:     issued.Lot.ID,
		TokenID:   issued.Token.Token.ID,
		Token:     issued.Token.Value,
		Prefix:    issued.Token.Token.Prefix,
		IssuedAt:  issued.Token.Token.IssuedAt,
		ExpiresAt: issued.Token.Token.ExpiresAt,
		AccessURL: payload.AccessURL,
		LabelCode: code,
	}, map[string]string{"Cache-Control": "no-store"})
}

// pruneTokens handles DELETE /lots/{lotId}/access-tokens/expired
func (s *Server) pruneTokens(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	lotID := chi.URLParam(r, "lotId")
	n, err := s.engine.PruneExpiredTokens(r.Context(), id, lotID)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, pruneResponse{LotID: lotID, Removed: n}, nil)
}

// install handles POST /lots/{lotId}/installations
func (s *Server) install(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	var req installRequest
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, "BAD_JSON", err.Error(), false)
		return
	}
	l, err := s.engine.Install(r.Context(), id, chi.URLParam(r, "lotId"), req.input())
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusCreated, corrID, l, nil)
}

// inspect handles POST /lots/{lotId}/inspections
func (s *Server) inspect(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	var req inspectRequest
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, "BAD_JSON", err.Error(), false)
		return
	}
	l, err := s.engine.Inspect(r.Context(), id, chi.URLParam(r, "lotId"), req.input())
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusCreated, corrID, l, nil)
}

// requestReplacement handles POST /lots/{lotId}/replacement-requests
func (s *Server) requestReplacement(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	var in lot.ReplacementInput
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &in); err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, "BAD_JSON", err.Error(), false)
		return
	}
	l, req, err := s.engine.RequestReplacement(r.Context(), id, chi.URLParam(r, "lotId"), in)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusCreated, corrID, replacementResponse{Lot: l, Request: req},
		map[string]string{"Location": "/replacement-requests/" + req.ID})
}

// evidenceUpload handles POST /lots/{lotId}/evidence-uploads
func (s *Server) evidenceUpload(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	var req evidenceUploadRequest
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, "BAD_JSON", err.Error(), false)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, string(lot.KindMissingFields), "fileName is required", false)
		return
	}
	l, err := s.engine.GetLot(r.Context(), id, chi.URLParam(r, "lotId"))
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	key, err := evidence.ObjectKey(l.ID, req.FileName)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, "VALIDATION_ERROR", err.Error(), false)
		return
	}
	up, err := s.evidence.PresignUpload(r.Context(), key, 0)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	log.Info("evidence upload presigned", "lotId", l.ID, "key", key)
	writeJSON(w, http.StatusCreated, corrID, up, nil)
}
