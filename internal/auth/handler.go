package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/lotflow/internal/lot"
)

// Handler serves the service-account key administration endpoints. Every
// method expects RequireRoles(lot.RoleAdmin) in front of it.
type Handler struct {
	keys   KeyStore
	logger *slog.Logger
}

func NewHandler(keys KeyStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{keys: keys, logger: logger}
}

type CreateKeyRequest struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"displayName"`
	Role        lot.Role   `json:"role"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// CreateKeyResponse carries the raw key. It is the only time the key is
// ever returned.
type CreateKeyResponse struct {
	Account ServiceAccount `json:"account"`
	RawKey  string         `json:"rawKey"`
}

type ListKeysResponse struct {
	Accounts []ServiceAccount `json:"accounts"`
}

// CreateKey handles POST /service-accounts
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	corrID := r.Header.Get("X-Correlation-Id")
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "BAD_JSON", "invalid JSON body", corrID, false)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeAuthError(w, http.StatusBadRequest, string(lot.KindMissingFields), "name is required", corrID, false)
		return
	}
	if !req.Role.Valid() {
		writeAuthError(w, http.StatusBadRequest, "VALIDATION_ERROR", "role is not recognized", corrID, false)
		return
	}

	acct, rawKey, err := h.keys.CreateKey(r.Context(), req.Name, strings.TrimSpace(req.DisplayName), req.Role, req.ExpiresAt)
	if err != nil {
		h.logger.Error("failed to create API key", slog.String("corrId", corrID), slog.String("error", err.Error()))
		writeAuthError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create API key", corrID, true)
		return
	}
	h.logger.Info("API key created",
		slog.String("corrId", corrID),
		slog.String("accountId", acct.ID),
		slog.String("role", string(acct.Role)),
	)
	writeKeyJSON(w, http.StatusCreated, corrID, CreateKeyResponse{Account: acct, RawKey: rawKey})
}

// ListKeys handles GET /service-accounts
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	corrID := r.Header.Get("X-Correlation-Id")
	accounts, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list API keys", slog.String("error", err.Error()))
		writeAuthError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list API keys", corrID, true)
		return
	}
	writeKeyJSON(w, http.StatusOK, corrID, ListKeysResponse{Accounts: accounts})
}

// RevokeKey handles DELETE /service-accounts/{accountId}
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request, id string) {
	corrID := r.Header.Get("X-Correlation-Id")
	if err := h.keys.RevokeKey(r.Context(), id); err != nil {
		writeAuthError(w, http.StatusNotFound, string(lot.KindNotFound), "API key not found", corrID, false)
		return
	}
	h.logger.Info("API key revoked", slog.String("corrId", corrID), slog.String("accountId", id))
	w.Header().Set("X-Correlation-Id", corrID)
	w.WriteHeader(http.StatusNoContent)
}

// RotateKey handles POST /service-accounts/{accountId}/rotate
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request, id string) {
	corrID := r.Header.Get("X-Correlation-Id")
	next, rawKey, err := h.keys.RotateKey(r.Context(), id)
	if err != nil {
		writeAuthError(w, http.StatusNotFound, string(lot.KindNotFound), "API key not found or cannot be rotated", corrID, false)
		return
	}
	h.logger.Info("API key rotated",
		slog.String("corrId", corrID),
		slog.String("oldAccountId", id),
		slog.String("newAccountId", next.ID),
	)
	writeKeyJSON(w, http.StatusOK, corrID, CreateKeyResponse{Account: next, RawKey: rawKey})
}

func writeKeyJSON(w http.ResponseWriter, status int, corrID string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if corrID != "" {
		w.Header().Set("X-Correlation-Id", corrID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
