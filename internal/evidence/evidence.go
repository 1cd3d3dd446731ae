// Package evidence hands out presigned upload URLs for inspection and
// replacement photos and checks that referenced photos were uploaded.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Upload is a presigned PUT the client performs directly against storage.
type Upload struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Storage interface {
	PresignUpload(ctx context.Context, key string, ttl time.Duration) (Upload, error)
	Exists(ctx context.Context, key string) (bool, error)
}

var allowedExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".heic": true, ".webp": true}

// ErrUnsupportedType is returned for file names whose extension is not an
// accepted photo format.
var ErrUnsupportedType = errors.New("unsupported evidence file type")

// ObjectKey allocates a fresh key for a photo of lotID. Only the extension of
// fileName is kept.
func ObjectKey(lotID, fileName string) (string, error) {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(fileName)))
	if !allowedExt[ext] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return "lots/" + lotID + "/evidence/" + uuid.NewString() + ext, nil
}

// BelongsTo reports whether key was allocated for lotID.
func BelongsTo(key, lotID string) bool {
	return strings.HasPrefix(key, "lots/"+lotID+"/evidence/")
}

type Config struct {
	Endpoint   string        `env:"ENDPOINT"`
	AccessKey  string        `env:"ACCESS_KEY"`
	SecretKey  string        `env:"SECRET_KEY"`
	Region     string        `env:"REGION" envDefault:"us-east-1"`
	UseSSL     bool          `env:"USE_SSL" envDefault:"false"`
	Bucket     string        `env:"BUCKET" envDefault:"lotflow-evidence"`
	PresignTTL time.Duration `env:"PRESIGN_TTL" envDefault:"15m"`
}

// LoadConfig reads LOTFLOW_MINIO_* variables. An empty endpoint means the
// in-memory store is used.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "LOTFLOW_MINIO_"})
	if err != nil {
		return Config{}, fmt.Errorf("parse evidence env: %w", err)
	}
	return cfg, nil
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.Endpoint) != "" }

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("access key and secret key are required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// InMemoryStorage keeps uploaded objects in a map. Presigned URLs point at a
// fake host; tests mark an upload as done with Put.
type InMemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
	now  func() time.Time
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{data: map[string][]byte{}, now: time.Now}
}

func (s *InMemoryStorage) Put(ctx context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = body
	return ctx.Err()
}

func (s *InMemoryStorage) PresignUpload(ctx context.Context, key string, ttl time.Duration) (Upload, error) {
	if err := ctx.Err(); err != nil {
		return Upload{}, err
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	exp := s.now().UTC().Add(ttl)
	u := url.URL{
		Scheme:   "https",
		Host:     "storage.local",
		Path:     "/" + key,
		RawQuery: "exp=" + url.QueryEscape(exp.Format(time.RFC3339)),
	}
	return Upload{Key: key, URL: u.String(), ExpiresAt: exp}, nil
}

func (s *InMemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, ctx.Err()
}
