package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/lotflow/internal/auth"
	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store"
)

// IssuedAccess is the result of an issuance: the updated lot and the token,
// whose raw value is only ever available here.
type IssuedAccess struct {
	Lot   lot.Lot
	Token lot.IssuedToken
}

// IssueAccessToken mints a fresh time-bounded token for the lot. The lot's
// status is not touched.
func (e *Engine) IssueAccessToken(ctx context.Context, id auth.Identity, lotID string) (out IssuedAccess, err error) {
	ctx, span := e.start(ctx, "IssueAccessToken", attribute.String("lot.id", lotID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return IssuedAccess{}, err
	}
	var issued lot.IssuedToken
	l, err := e.mutateLot(ctx, lotID, func(l *lot.Lot, now time.Time) (store.Change, error) {
		tok, entry, err := lot.IssueToken(l, id.Actor(), e.issue, now)
		if err != nil {
			return store.Change{}, err
		}
		issued = tok
		return mirror(id, l.ID, entry), nil
	})
	if err != nil {
		return IssuedAccess{}, err
	}
	e.logger.Info("access token issued", "lotId", lotID, "actorId", id.ActorID,
		"tokenId", issued.Token.ID, "expiresAt", issued.Token.ExpiresAt)
	return IssuedAccess{Lot: l, Token: issued}, nil
}

// TokenValidation reports the outcome of checking a presented token.
type TokenValidation struct {
	Valid     bool       `json:"valid"`
	Reason    lot.Kind   `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ValidateToken checks token against the lot without mutating anything. An
// unknown lot is an error; an unknown or expired token is a negative result.
func (e *Engine) ValidateToken(ctx context.Context, lotID, token string) (v TokenValidation, err error) {
	ctx, span := e.start(ctx, "ValidateToken", attribute.String("lot.id", lotID))
	defer func() { finish(span, err) }()

	l, err := e.store.LoadLot(ctx, lotID)
	if err != nil {
		return TokenValidation{}, err
	}
	tok, verr := l.ValidateToken(token, e.clock.Now())
	if verr != nil {
		v = TokenValidation{Reason: lot.KindOf(verr)}
		if !tok.ExpiresAt.IsZero() {
			v.ExpiresAt = &tok.ExpiresAt
		}
		return v, nil
	}
	return TokenValidation{Valid: true, ExpiresAt: &tok.ExpiresAt}, nil
}

// ValidateAccess is the read gate used before returning lot data on the
// token path.
func (e *Engine) ValidateAccess(ctx context.Context, lotID, token string) bool {
	v, err := e.ValidateToken(ctx, lotID, token)
	return err == nil && v.Valid
}

// GetLotWithToken reads a lot on the strength of an access token alone.
func (e *Engine) GetLotWithToken(ctx context.Context, lotID, token string) (l lot.Lot, err error) {
	ctx, span := e.start(ctx, "GetLotWithToken", attribute.String("lot.id", lotID))
	defer func() { finish(span, err) }()

	l, err = e.store.LoadLot(ctx, lotID)
	if err != nil {
		return lot.Lot{}, err
	}
	if _, err := l.ValidateToken(token, e.clock.Now()); err != nil {
		return lot.Lot{}, err
	}
	return l, nil
}

// PruneExpiredTokens removes expired tokens from the lot. The owner, depot
// staff and admins may prune; nothing is appended to the trail and a lot with
// nothing to prune is not written.
func (e *Engine) PruneExpiredTokens(ctx context.Context, id auth.Identity, lotID string) (removed int, err error) {
	ctx, span := e.start(ctx, "PruneExpiredTokens", attribute.String("lot.id", lotID))
	defer func() {
		span.SetAttributes(attribute.Int("tokens.removed", removed))
		finish(span, err)
	}()

	if err := requireIdentity(id); err != nil {
		return 0, err
	}
	l, err := e.store.LoadLot(ctx, lotID)
	if err != nil {
		return 0, err
	}
	if l.OwnerID != id.ActorID && !id.HasRole(lot.RoleDepotStaff, lot.RoleAdmin) {
		return 0, lot.Errorf(lot.KindForbidden, "actor %s may not prune tokens on lot %s", id.ActorID, lotID)
	}
	if l.ExpiredTokenCount(e.clock.Now()) == 0 {
		return 0, nil
	}
	_, err = e.mutateLot(ctx, lotID, func(l *lot.Lot, now time.Time) (store.Change, error) {
		removed = l.PruneExpiredTokens(now)
		return store.Change{}, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
