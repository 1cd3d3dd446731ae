package lot

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// TokenPrefix marks lot access tokens so they are recognizable in logs and
// scanner payloads.
const TokenPrefix = "lft_"

// DefaultTokenValidity is the window a freshly issued token stays valid.
const DefaultTokenValidity = 24 * time.Hour

// AccessToken is the persisted half of an access credential. Only the BLAKE3
// digest of the value is kept; the value itself is returned once at issuance.
type AccessToken struct {
	ID        string    `json:"id"`
	Digest    string    `json:"digest"`
	Prefix    string    `json:"prefix"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IssuedBy  string    `json:"issuedBy"`
}

// ValidAt reports whether the token is inside its validity window at now.
func (t AccessToken) ValidAt(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// IssuedToken is the result of an issuance: the stored token and the raw
// value to embed in the scannable label.
type IssuedToken struct {
	Token AccessToken
	Value string
}

// IssuePolicy controls who may issue tokens and for how long they last.
type IssuePolicy struct {
	Validity              time.Duration
	AdditionalIssuerRoles []Role
}

func (p IssuePolicy) validity() time.Duration {
	if p.Validity <= 0 {
		return DefaultTokenValidity
	}
	return p.Validity
}

// CanIssue reports whether actor may issue access tokens for l.
func (p IssuePolicy) CanIssue(l Lot, actor Actor) bool {
	if actor.ID != "" && actor.ID == l.OwnerID {
		return true
	}
	return hasRole(actor.Role, p.AdditionalIssuerRoles...)
}

// GenerateTokenValue returns a new random token value of the form
// lft_<base64url(32 bytes)> together with its 8-character display prefix.
func GenerateTokenValue() (value, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(buf)
	return TokenPrefix + encoded, encoded[:8], nil
}

// DigestToken returns the hex BLAKE3 digest stored for a token value.
func DigestToken(value string) string {
	sum := blake3.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// IssueToken mints a fresh token for l and records a qr_generated entry. Each
// call produces an independent token; existing tokens are never extended.
func IssueToken(l *Lot, actor Actor, policy IssuePolicy, now time.Time) (IssuedToken, AuditEntry, error) {
	if !policy.CanIssue(*l, actor) {
		return IssuedToken{}, AuditEntry{}, Errorf(KindForbidden, "actor %s may not issue access tokens for lot %s", actor.ID, l.ID)
	}
	value, prefix, err := GenerateTokenValue()
	if err != nil {
		return IssuedToken{}, AuditEntry{}, err
	}
	now = now.UTC()
	tok := AccessToken{
		ID:        NewID(),
		Digest:    DigestToken(value),
		Prefix:    prefix,
		IssuedAt:  now,
		ExpiresAt: now.Add(policy.validity()),
		IssuedBy:  actor.ID,
	}
	l.AccessTokens = append(l.AccessTokens, tok)
	entry := l.Append(NewEntry(actor, "access code generated", TokenIssued{
		TokenID:     tok.ID,
		TokenPrefix: tok.Prefix,
		IssuedAt:    tok.IssuedAt,
		ExpiresAt:   tok.ExpiresAt,
	}), now)
	return IssuedToken{Token: tok, Value: value}, entry, nil
}

// ValidateToken checks a presented value against the lot's token set. It
// never mutates the set: a token may be validated any number of times before
// it expires.
func (l Lot) ValidateToken(value string, now time.Time) (AccessToken, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, TokenPrefix) {
		return AccessToken{}, Errorf(KindTokenNotFound, "access token not found for lot %s", l.ID)
	}
	digest := DigestToken(value)
	for _, tok := range l.AccessTokens {
		if subtle.ConstantTimeCompare([]byte(tok.Digest), []byte(digest)) != 1 {
			continue
		}
		if !tok.ValidAt(now) {
			return tok, Errorf(KindTokenExpired, "access token expired at %s", tok.ExpiresAt.Format(time.RFC3339))
		}
		return tok, nil
	}
	return AccessToken{}, Errorf(KindTokenNotFound, "access token not found for lot %s", l.ID)
}

// PruneExpiredTokens drops tokens whose window has closed and returns how many
// were removed. Pruning is garbage collection only; validity never depends on it.
func (l *Lot) PruneExpiredTokens(now time.Time) int {
	kept := l.AccessTokens[:0]
	removed := 0
	for _, tok := range l.AccessTokens {
		if tok.ValidAt(now) {
			kept = append(kept, tok)
			continue
		}
		removed++
	}
	l.AccessTokens = kept
	return removed
}

// ExpiredTokenCount reports how many stored tokens are past expiry at now.
func (l Lot) ExpiredTokenCount(now time.Time) int {
	n := 0
	for _, tok := range l.AccessTokens {
		if !tok.ValidAt(now) {
			n++
		}
	}
	return n
}
