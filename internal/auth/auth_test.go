package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yourorg/lotflow/internal/clock"
	"github.com/yourorg/lotflow/internal/lot"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testConfig() Config {
	return Config{
		APIKeyHashAlgorithm: "bcrypt",
		BcryptCost:          4, // bcrypt.MinCost keeps tests fast
		KeyRotationWindow:   time.Hour,
	}
}

func TestGenerateAPIKey(t *testing.T) {
	rawKey, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		t.Errorf("rawKey doesn't start with prefix: %s", rawKey[:4])
	}
	if len(prefix) != 8 {
		t.Errorf("prefix length = %d, want 8", len(prefix))
	}
	if got := ExtractKeyPrefix(rawKey); got != prefix {
		t.Errorf("ExtractKeyPrefix() = %q, want %q", got, prefix)
	}
}

func TestHashAndVerifyKey_Bcrypt(t *testing.T) {
	rawKey, _, _ := GenerateAPIKey()
	hash, err := HashKey(rawKey, testConfig())
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	if !VerifyKey(rawKey, hash) {
		t.Error("VerifyKey() returned false for valid key")
	}
	if VerifyKey(rawKey+"x", hash) {
		t.Error("VerifyKey() returned true for invalid key")
	}
}

func TestHashAndVerifyKey_Argon2(t *testing.T) {
	cfg := Config{
		APIKeyHashAlgorithm: "argon2",
		Argon2Time:          1,
		Argon2Memory:        16 * 1024, // Lower memory for faster tests
		Argon2Threads:       2,
	}
	rawKey, _, _ := GenerateAPIKey()
	hash, err := HashKey(rawKey, cfg)
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash = %q, want argon2id encoding", hash)
	}
	if !VerifyKey(rawKey, hash) {
		t.Error("VerifyKey() returned false for valid key")
	}
	if VerifyKey(rawKey+"x", hash) {
		t.Error("VerifyKey() returned true for invalid key")
	}
}

func TestHashKeyRejectsForeignPrefix(t *testing.T) {
	if _, err := HashKey("lft_abcdefgh", testConfig()); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("err = %v, want ErrInvalidKey", err)
	}
}

func TestJWTResolve(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	r, err := NewJWTResolver(testSecret, "lotflow", 0, clk)
	if err != nil {
		t.Fatalf("NewJWTResolver() error = %v", err)
	}
	want := Identity{ActorID: "D1", DisplayName: "Depot One", Role: lot.RoleDepotStaff}
	token, err := r.Issue(want, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	got, err := r.Resolve(token)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ActorID != want.ActorID || got.DisplayName != want.DisplayName || got.Role != want.Role || got.Method != "jwt" {
		t.Errorf("Resolve() = %+v", got)
	}

	clk.Advance(2 * time.Hour)
	if _, err := r.Resolve(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTResolveRejectsForeignTokens(t *testing.T) {
	r, _ := NewJWTResolver(testSecret, "lotflow", 0, nil)

	other, _ := NewJWTResolver([]byte("ffffffffffffffffffffffffffffffff"), "lotflow", 0, nil)
	forged, _ := other.Issue(Identity{ActorID: "X", Role: lot.RoleAdmin}, time.Hour)
	if _, err := r.Resolve(forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: err = %v", err)
	}

	wrongIssuer, _ := NewJWTResolver(testSecret, "elsewhere", 0, nil)
	tok, _ := wrongIssuer.Issue(Identity{ActorID: "X", Role: lot.RoleAdmin}, time.Hour)
	if _, err := r.Resolve(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer: err = %v", err)
	}

	badRole, _ := r.Issue(Identity{ActorID: "X", Role: "superuser"}, time.Hour)
	if _, err := r.Resolve(badRole); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("unknown role: err = %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "X"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := r.Resolve(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("alg none: err = %v", err)
	}
}

func TestNewJWTResolverRequiresLongSecret(t *testing.T) {
	if _, err := NewJWTResolver([]byte("short"), "", 0, nil); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestKeyStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	s := NewInMemoryKeyStore(testConfig(), clk)

	acct, rawKey, err := s.CreateKey(ctx, "scanner-7", "Depot scanner 7", lot.RoleDepotStaff, nil)
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	got, err := s.ValidateKey(ctx, rawKey)
	if err != nil {
		t.Fatalf("ValidateKey() error = %v", err)
	}
	if got.ID != acct.ID || got.Identity().Role != lot.RoleDepotStaff || got.Identity().DisplayName != "Depot scanner 7" {
		t.Errorf("ValidateKey() = %+v", got)
	}

	next, nextRaw, err := s.RotateKey(ctx, acct.ID)
	if err != nil {
		t.Fatalf("RotateKey() error = %v", err)
	}
	if _, err := s.ValidateKey(ctx, rawKey); err != nil {
		t.Errorf("old key inside rotation window: %v", err)
	}
	clk.Advance(2 * time.Hour)
	if _, err := s.ValidateKey(ctx, rawKey); !errors.Is(err, ErrKeyExpired) {
		t.Errorf("old key after rotation window: err = %v", err)
	}
	if _, err := s.ValidateKey(ctx, nextRaw); err != nil {
		t.Errorf("rotated key: %v", err)
	}

	if err := s.RevokeKey(ctx, next.ID); err != nil {
		t.Fatalf("RevokeKey() error = %v", err)
	}
	if _, err := s.ValidateKey(ctx, nextRaw); !errors.Is(err, ErrKeyRevoked) {
		t.Errorf("revoked key: err = %v", err)
	}
	if _, err := s.ValidateKey(ctx, "lfk_unknownkeyvalue"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("unknown key: err = %v", err)
	}
	if _, _, err := s.CreateKey(ctx, "x", "", "root", nil); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("unknown role: err = %v", err)
	}
}

func TestRateLimiter(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(2, time.Minute, clk)
	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("a"); !ok {
			t.Fatalf("request %d denied", i)
		}
	}
	if !rl.Blocked("a") {
		t.Error("Blocked() = false after bucket drained")
	}
	ok, retry := rl.Allow("a")
	if ok || retry != 30*time.Second {
		t.Errorf("Allow() = %v, %s", ok, retry)
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Error("separate key should have its own bucket")
	}
	clk.Advance(time.Minute)
	if ok, _ := rl.Allow("a"); !ok {
		t.Error("bucket should refill after a window")
	}
}
