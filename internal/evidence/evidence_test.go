package evidence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	key, err := ObjectKey("L1", "IMG_0042.JPG")
	if err != nil {
		t.Fatalf("ObjectKey() error = %v", err)
	}
	if !strings.HasPrefix(key, "lots/L1/evidence/") || !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("key = %q", key)
	}
	if !BelongsTo(key, "L1") || BelongsTo(key, "L2") {
		t.Error("BelongsTo mismatch")
	}
	if _, err := ObjectKey("L1", "notes.exe"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want unsupported type", err)
	}
}

func TestInMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()
	up, err := s.PresignUpload(ctx, "lots/L1/evidence/a.jpg", time.Minute)
	if err != nil {
		t.Fatalf("PresignUpload() error = %v", err)
	}
	if !strings.HasPrefix(up.URL, "https://storage.local/lots/L1/evidence/a.jpg?exp=") {
		t.Errorf("url = %q", up.URL)
	}
	if ok, _ := s.Exists(ctx, up.Key); ok {
		t.Fatal("object exists before upload")
	}
	if err := s.Put(ctx, up.Key, []byte("jpeg")); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Exists(ctx, up.Key); !ok || err != nil {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "evidence"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected error for scheme in endpoint")
	}
	if (Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
}

func TestNewMinioStorageRejectsBadConfig(t *testing.T) {
	if _, err := NewMinioStorage(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected credentials error")
	}
}
