package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/yourorg/lotflow/internal/lot"
)

// ErrorBody is the envelope for every non-2xx JSON response.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	CorrID    string `json:"corrId"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, corrID string, v any, extra map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	if corrID != "" {
		w.Header().Set("X-Correlation-Id", corrID)
	}
	for k, val := range extra {
		w.Header().Set(k, val)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, corrID, code, message string, retryable bool) {
	writeJSON(w, status, corrID, ErrorBody{Code: code, Message: message, CorrID: corrID, Retryable: retryable}, nil)
}

func statusFor(kind lot.Kind) int {
	switch kind {
	case lot.KindNotFound:
		return http.StatusNotFound
	case lot.KindForbidden:
		return http.StatusForbidden
	case lot.KindInvalidStatus, lot.KindInvalidCondition, lot.KindMissingFields,
		lot.KindInvalidReason, lot.KindInvalidPriority:
		return http.StatusBadRequest
	case lot.KindInvalidTransition, lot.KindConflict:
		return http.StatusConflict
	case lot.KindTokenExpired, lot.KindTokenNotFound:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeError maps err onto the envelope. Domain errors keep their kind as
// the code; anything else is logged and reported as INTERNAL_ERROR.
func writeError(w http.ResponseWriter, log *slog.Logger, corrID string, err error) {
	if kind := lot.KindOf(err); kind != "" {
		var e *lot.Error
		errors.As(err, &e)
		writeErrorCode(w, statusFor(kind), corrID, string(kind), e.Error(), kind == lot.KindConflict)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeErrorCode(w, http.StatusGatewayTimeout, corrID, "TIMEOUT", "request timed out", true)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	log.Error("request failed", "error", err)
	writeErrorCode(w, http.StatusInternalServerError, corrID, "INTERNAL_ERROR", "internal error", true)
}

func writeRateLimited(w http.ResponseWriter, corrID string, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	writeJSON(w, http.StatusTooManyRequests, corrID,
		ErrorBody{Code: "RATE_LIMITED", Message: "too many requests", CorrID: corrID, Retryable: true},
		map[string]string{"Retry-After": strconv.Itoa(seconds)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
