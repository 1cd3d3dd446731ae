package lot

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueTokenByOwner(t *testing.T) {
	l := newTestLot(t)
	issued, entry, err := IssueToken(&l, vendor, IssuePolicy{}, testNow)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if !strings.HasPrefix(issued.Value, TokenPrefix) {
		t.Errorf("value %q lacks prefix", issued.Value)
	}
	if issued.Token.Digest == issued.Value || strings.Contains(issued.Token.Digest, issued.Value) {
		t.Error("stored token must not contain the raw value")
	}
	if want := testNow.Add(24 * time.Hour); !issued.Token.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %s, want %s", issued.Token.ExpiresAt, want)
	}
	if entry.Action != ActionQRGenerated {
		t.Errorf("action = %s", entry.Action)
	}
	meta := entry.Metadata.(TokenIssued)
	if meta.TokenID != issued.Token.ID || !meta.ExpiresAt.Equal(issued.Token.ExpiresAt) {
		t.Errorf("metadata = %+v", meta)
	}
	if l.Status != StatusPending {
		t.Errorf("issuance changed status to %s", l.Status)
	}
}

func TestIssueTokenForbiddenForNonOwner(t *testing.T) {
	l := newTestLot(t)
	other := Actor{ID: "V2", Role: RoleVendor}
	if _, _, err := IssueToken(&l, other, IssuePolicy{}, testNow); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	if len(l.AuditTrail) != 0 || len(l.AccessTokens) != 0 {
		t.Error("failed issuance mutated the lot")
	}
	policy := IssuePolicy{AdditionalIssuerRoles: []Role{RoleDepotStaff}}
	if _, _, err := IssueToken(&l, depotStaff, policy, testNow); err != nil {
		t.Fatalf("depot staff with policy: %v", err)
	}
}

func TestTokenValidityWindow(t *testing.T) {
	l := newTestLot(t)
	issued, _, err := IssueToken(&l, vendor, IssuePolicy{}, testNow)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	for _, d := range []time.Duration{0, time.Hour, 24*time.Hour - time.Nanosecond} {
		if _, err := l.ValidateToken(issued.Value, testNow.Add(d)); err != nil {
			t.Errorf("at +%s: %v", d, err)
		}
	}
	for _, d := range []time.Duration{24 * time.Hour, 48 * time.Hour} {
		if _, err := l.ValidateToken(issued.Value, testNow.Add(d)); !errors.Is(err, ErrTokenExpired) {
			t.Errorf("at +%s: err = %v, want expired", d, err)
		}
	}
}

func TestSecondIssuanceKeepsFirstValid(t *testing.T) {
	l := newTestLot(t)
	first, _, _ := IssueToken(&l, vendor, IssuePolicy{}, testNow)
	second, _, _ := IssueToken(&l, vendor, IssuePolicy{}, testNow.Add(time.Hour))
	if first.Value == second.Value {
		t.Fatal("tokens should be independent")
	}
	if _, err := l.ValidateToken(first.Value, testNow.Add(2*time.Hour)); err != nil {
		t.Errorf("first token: %v", err)
	}
	if _, err := l.ValidateToken(second.Value, testNow.Add(2*time.Hour)); err != nil {
		t.Errorf("second token: %v", err)
	}
}

func TestValidateUnknownToken(t *testing.T) {
	l := newTestLot(t)
	if _, err := l.ValidateToken("lft_nope", testNow); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := l.ValidateToken("", testNow); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("empty token: err = %v, want not found", err)
	}
}

func TestPruneExpiredTokens(t *testing.T) {
	l := newTestLot(t)
	IssueToken(&l, vendor, IssuePolicy{}, testNow)
	fresh, _, _ := IssueToken(&l, vendor, IssuePolicy{}, testNow.Add(12*time.Hour))
	trail := len(l.AuditTrail)

	at := testNow.Add(25 * time.Hour)
	if n := l.ExpiredTokenCount(at); n != 1 {
		t.Fatalf("ExpiredTokenCount() = %d, want 1", n)
	}
	if n := l.PruneExpiredTokens(at); n != 1 {
		t.Fatalf("PruneExpiredTokens() = %d, want 1", n)
	}
	if len(l.AuditTrail) != trail {
		t.Error("pruning appended audit entries")
	}
	if _, err := l.ValidateToken(fresh.Value, at); err != nil {
		t.Errorf("fresh token after prune: %v", err)
	}
}
