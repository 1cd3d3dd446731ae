package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yourorg/lotflow/internal/clock"
	"github.com/yourorg/lotflow/internal/lot"
)

// Claims carried by lotflow bearer tokens. Subject is the actor id.
type Claims struct {
	jwt.RegisteredClaims
	Name string   `json:"name"`
	Role lot.Role `json:"role"`
}

// JWTResolver verifies HS256 bearer tokens. The secret is injected by the
// caller and never read from the environment here.
type JWTResolver struct {
	secret []byte
	issuer string
	leeway time.Duration
	clock  clock.Clock
}

func NewJWTResolver(secret []byte, issuer string, leeway time.Duration, clk clock.Clock) (*JWTResolver, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &JWTResolver{secret: secret, issuer: issuer, leeway: leeway, clock: clk}, nil
}

// Resolve parses and verifies a compact JWT and returns the identity it
// asserts. Tokens must carry sub, exp and a known role.
func (r *JWTResolver) Resolve(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrCredentialsRequired
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(r.leeway),
		jwt.WithTimeFunc(r.clock.Now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return Identity{ActorID: claims.Subject, DisplayName: name, Role: claims.Role, Method: "jwt"}, nil
}

// Issue signs a token for id valid for ttl. It backs the development token
// command and tests; production tokens come from the sign-in service.
func (r *JWTResolver) Issue(id Identity, ttl time.Duration) (string, error) {
	now := r.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ActorID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        lot.NewID(),
		},
		Name: id.DisplayName,
		Role: id.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
