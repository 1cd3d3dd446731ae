package auth

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds authentication-related configuration.
type Config struct {
	// JWTSecret signs and verifies bearer tokens (HS256).
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"lotflow"`
	// JWTLeeway tolerates clock skew between the issuer and this service.
	JWTLeeway time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`

	// APIKeyHashAlgorithm specifies the hashing algorithm (bcrypt or argon2).
	APIKeyHashAlgorithm string `env:"HASH_ALGORITHM" envDefault:"bcrypt"`
	BcryptCost          int    `env:"BCRYPT_COST" envDefault:"12"`
	Argon2Time          uint32 `env:"ARGON2_TIME" envDefault:"1"`
	// Argon2Memory is in KiB.
	Argon2Memory  uint32 `env:"ARGON2_MEMORY" envDefault:"65536"`
	Argon2Threads uint8  `env:"ARGON2_THREADS" envDefault:"4"`
	// KeyRotationWindow is the grace period for old keys during rotation.
	KeyRotationWindow time.Duration `env:"KEY_ROTATION_WINDOW" envDefault:"24h"`

	// FailuresPerMinute caps failed authentication attempts per client address.
	FailuresPerMinute int `env:"FAILURES_PER_MIN" envDefault:"30"`
}

// LoadConfig loads auth configuration from LOTFLOW_AUTH_* variables.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "LOTFLOW_AUTH_"})
	if err != nil {
		return Config{}, fmt.Errorf("parse auth env: %w", err)
	}
	return cfg, nil
}
