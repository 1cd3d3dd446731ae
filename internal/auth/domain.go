package auth

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/lotflow/internal/lot"
)

var (
	ErrCredentialsRequired = errors.New("credentials required")
	ErrInvalidAPIKey       = errors.New("invalid API key")
	ErrKeyExpired          = errors.New("API key expired")
	ErrKeyRevoked          = errors.New("API key revoked")
	ErrInvalidToken        = errors.New("invalid bearer token")
	ErrUnknownRole         = errors.New("unknown role")
)

// Identity is a resolved, authenticated caller.
type Identity struct {
	ActorID     string   `json:"actorId"`
	DisplayName string   `json:"displayName"`
	Role        lot.Role `json:"role"`
	// Method records how the caller authenticated: "jwt", "api_key" or "system".
	Method string `json:"method,omitempty"`
}

// Actor converts the identity into the form recorded on audit entries.
func (i Identity) Actor() lot.Actor {
	return lot.Actor{ID: i.ActorID, DisplayName: i.DisplayName, Role: i.Role}
}

func (i Identity) HasRole(roles ...lot.Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// SystemIdentity is used by background jobs. It never appears on audit
// entries because the jobs it runs append none.
var SystemIdentity = Identity{ActorID: "system", DisplayName: "lotflow", Role: lot.RoleAdmin, Method: "system"}

// ServiceAccount is a non-human caller (a handheld scanner, an integration)
// authenticating with an lfk_ API key. The raw key is shown once at creation;
// only its hash is kept.
type ServiceAccount struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"displayName"`
	Role        lot.Role   `json:"role"`
	KeyPrefix   string     `json:"keyPrefix"`
	KeyHash     string     `json:"-"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	Rotated     bool       `json:"rotated,omitempty"`
}

func (a ServiceAccount) Identity() Identity {
	name := a.DisplayName
	if name == "" {
		name = a.Name
	}
	return Identity{ActorID: a.ID, DisplayName: name, Role: a.Role, Method: "api_key"}
}

// KeyStore manages service-account API keys.
type KeyStore interface {
	ValidateKey(ctx context.Context, rawKey string) (ServiceAccount, error)
	CreateKey(ctx context.Context, name, displayName string, role lot.Role, expiresAt *time.Time) (ServiceAccount, string, error)
	RotateKey(ctx context.Context, id string) (ServiceAccount, string, error)
	RevokeKey(ctx context.Context, id string) error
	ListKeys(ctx context.Context) ([]ServiceAccount, error)
	UpdateLastUsed(ctx context.Context, id string) error
}

type identityKey struct{}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}
