package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/lotflow/internal/lot"
)

// AuthError is the JSON body written for authentication failures.
type AuthError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	CorrID    string `json:"corrId"`
	Retryable bool   `json:"retryable"`
}

// Authenticator resolves request credentials into an Identity.
type Authenticator struct {
	jwt     *JWTResolver
	keys    KeyStore
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewAuthenticator wires the credential sources. Either jwt or keys may be
// nil to disable that method.
func NewAuthenticator(jwt *JWTResolver, keys KeyStore, limiter *RateLimiter, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{jwt: jwt, keys: keys, limiter: limiter, logger: logger}
}

// Middleware resolves credentials when present and stores the identity in
// the request context. Requests without credentials pass through
// unauthenticated; routes that need a caller add RequireIdentity. Invalid
// credentials are always rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get("X-Correlation-Id")
		bearer := extractBearer(r)
		apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if bearer == "" && apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		client := clientIP(r)
		if a.limiter.Blocked(client) {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			writeAuthError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many failed authentication attempts", corrID, true)
			return
		}

		id, err := a.resolve(r.Context(), bearer, apiKey)
		if err != nil {
			a.limiter.Allow(client)
			a.logger.Warn("authentication failed",
				slog.String("corrId", corrID),
				slog.String("client", client),
				slog.String("keyPrefix", ExtractKeyPrefix(apiKey)),
				slog.String("error", err.Error()),
			)
			handleAuthError(w, corrID, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

func (a *Authenticator) resolve(ctx context.Context, bearer, apiKey string) (Identity, error) {
	if apiKey != "" || strings.HasPrefix(bearer, KeyPrefix) {
		if apiKey == "" {
			apiKey = bearer
		}
		if a.keys == nil {
			return Identity{}, ErrInvalidAPIKey
		}
		acct, err := a.keys.ValidateKey(ctx, apiKey)
		if err != nil {
			return Identity{}, err
		}
		go func(id string) {
			if err := a.keys.UpdateLastUsed(context.Background(), id); err != nil {
				a.logger.Error("failed to update last used for API key", "keyId", id, "error", err)
			}
		}(acct.ID)
		return acct.Identity(), nil
	}
	if a.jwt == nil {
		return Identity{}, ErrInvalidToken
	}
	return a.jwt.Resolve(bearer)
}

// RequireIdentity rejects requests that carry no resolved identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			writeAuthError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "authentication required", r.Header.Get("X-Correlation-Id"), false)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles rejects callers whose role is not listed.
func RequireRoles(roles ...lot.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := r.Header.Get("X-Correlation-Id")
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "authentication required", corrID, false)
				return
			}
			if !id.HasRole(roles...) {
				writeAuthError(w, http.StatusForbidden, string(lot.KindForbidden), fmt.Sprintf("role %q not permitted", id.Role), corrID, false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearer supports "Bearer <token>" and "ApiKey <key>".
func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	for _, scheme := range []string{"Bearer ", "ApiKey "} {
		if v, ok := strings.CutPrefix(h, scheme); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func handleAuthError(w http.ResponseWriter, corrID string, err error) {
	switch {
	case errors.Is(err, ErrInvalidKey):
		writeAuthError(w, http.StatusUnauthorized, "INVALID_KEY", "invalid API key format", corrID, false)
	case errors.Is(err, ErrInvalidAPIKey):
		writeAuthError(w, http.StatusUnauthorized, "INVALID_KEY", "invalid API key", corrID, false)
	case errors.Is(err, ErrKeyExpired):
		writeAuthError(w, http.StatusUnauthorized, "KEY_EXPIRED", "API key has expired", corrID, false)
	case errors.Is(err, ErrKeyRevoked):
		writeAuthError(w, http.StatusUnauthorized, "KEY_REVOKED", "API key has been revoked", corrID, false)
	case errors.Is(err, ErrUnknownRole):
		writeAuthError(w, http.StatusForbidden, "UNKNOWN_ROLE", "credential carries an unknown role", corrID, false)
	case errors.Is(err, ErrInvalidToken):
		writeAuthError(w, http.StatusUnauthorized, "INVALID_TOKEN", "invalid bearer token", corrID, false)
	default:
		writeAuthError(w, http.StatusUnauthorized, "AUTH_FAILED", "authentication failed", corrID, false)
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message, corrID string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	if corrID != "" {
		w.Header().Set("X-Correlation-Id", corrID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(AuthError{Code: code, Message: message, CorrID: corrID, Retryable: retryable})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket address without its port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientIP exposes the client address resolution used for throttling.
func ClientIP(r *http.Request) string { return clientIP(r) }
