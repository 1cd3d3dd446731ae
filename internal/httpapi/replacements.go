package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/lotflow/internal/lot"
)

// getReplacement handles GET /replacement-requests/{requestId}
func (s *Server) getReplacement(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	req, err := s.engine.GetReplacement(r.Context(), id, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, req, nil)
}

// reviewReplacement handles POST /replacement-requests/{requestId}/review
func (s *Server) reviewReplacement(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	var in lot.ReviewInput
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &in); err != nil {
		writeErrorCode(w, http.StatusBadRequest, corrID, "BAD_JSON", err.Error(), false)
		return
	}
	req, err := s.engine.ReviewReplacement(r.Context(), id, chi.URLParam(r, "requestId"), in)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, req, nil)
}

// completeReplacement handles POST /replacement-requests/{requestId}/complete.
// The body is optional.
func (s *Server) completeReplacement(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	var body completeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, s.cfg.MaxBodyBytes, &body); err != nil {
			writeErrorCode(w, http.StatusBadRequest, corrID, "BAD_JSON", err.Error(), false)
			return
		}
	}
	req, err := s.engine.CompleteReplacement(r.Context(), id, chi.URLParam(r, "requestId"), body.Notes)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, req, nil)
}

// userHistory handles GET /me/history
func (s *Server) userHistory(w http.ResponseWriter, r *http.Request) {
	id, corrID, log := s.request(r)
	h, err := s.engine.UserHistory(r.Context(), id)
	if err != nil {
		writeError(w, log, corrID, err)
		return
	}
	writeJSON(w, http.StatusOK, corrID, historyResponse{ActorID: id.ActorID, Entries: h}, nil)
}
