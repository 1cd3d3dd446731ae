package label

import (
	"strings"
	"testing"
	"time"

	"github.com/yourorg/lotflow/internal/lot"
)

func testPayload(t *testing.T) Payload {
	t.Helper()
	made := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	l := lot.Lot{ID: "L1", Name: "Rail clips", BatchNumber: "B-7", ManufactureDate: &made}
	issued := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tok := lot.IssuedToken{
		Token: lot.AccessToken{ID: "tok", IssuedAt: issued, ExpiresAt: issued.Add(24 * time.Hour)},
		Value: "lft_abc+/def",
	}
	return NewPayload(l, tok, "https://lots.example.com/")
}

func TestAccessURLEscapesToken(t *testing.T) {
	p := testPayload(t)
	want := "https://lots.example.com/lots/L1?token=lft_abc%2B%2Fdef"
	if p.AccessURL != want {
		t.Fatalf("AccessURL = %q, want %q", p.AccessURL, want)
	}
}

func TestPayloadEncodingIsDeterministic(t *testing.T) {
	p := testPayload(t)
	a, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	b, _ := p.Encode()
	if a != b {
		t.Fatal("encoding differs between calls")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("encoding is not unpadded base64url: %q", a)
	}

	got, err := DecodePayload(a)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if got.LotID != p.LotID || got.AccessURL != p.AccessURL || !got.ExpiresAt.Equal(p.ExpiresAt) {
		t.Fatalf("decoded = %+v", got)
	}
	if got.ManufactureDate == nil || !got.ManufactureDate.Equal(*p.ManufactureDate) {
		t.Errorf("manufacture date lost: %v", got.ManufactureDate)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	if _, err := DecodePayload("!!!"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRenderHTML(t *testing.T) {
	p := testPayload(t)
	html, err := RenderHTML(p, Config{TimeZone: "UTC", QRSize: 128})
	if err != nil {
		t.Fatalf("RenderHTML() error = %v", err)
	}
	for _, want := range []string{"Rail clips", "B-7", "2025-01-10", "data:image/png;base64,", "2025-03-02 09:00 UTC"} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}
	if strings.Contains(html, "lft_abc") {
		t.Error("raw token printed as text")
	}
}
