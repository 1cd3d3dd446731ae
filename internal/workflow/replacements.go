package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/lotflow/internal/auth"
	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store"
)

// GetReplacement returns a replacement request to any authenticated caller.
func (e *Engine) GetReplacement(ctx context.Context, id auth.Identity, requestID string) (r lot.ReplacementRequest, err error) {
	ctx, span := e.start(ctx, "GetReplacement", attribute.String("replacement.id", requestID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return lot.ReplacementRequest{}, err
	}
	return e.store.LoadReplacement(ctx, requestID)
}

// ReviewReplacement approves or rejects a pending request. The decision is
// recorded on the request; the lot trail is not touched.
func (e *Engine) ReviewReplacement(ctx context.Context, id auth.Identity, requestID string, in lot.ReviewInput) (r lot.ReplacementRequest, err error) {
	ctx, span := e.start(ctx, "ReviewReplacement",
		attribute.String("replacement.id", requestID), attribute.String("replacement.decision", string(in.Decision)))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return lot.ReplacementRequest{}, err
	}
	r, err = e.mutateReplacement(ctx, requestID, func(r *lot.ReplacementRequest, now time.Time) (store.Change, error) {
		return store.Change{}, r.Review(id.Actor(), in, now)
	})
	if err != nil {
		return lot.ReplacementRequest{}, err
	}
	e.logger.Info("replacement reviewed", "requestId", requestID, "actorId", id.ActorID, "status", r.Status)
	return r, nil
}

// CompleteReplacement closes an approved request.
func (e *Engine) CompleteReplacement(ctx context.Context, id auth.Identity, requestID, notes string) (r lot.ReplacementRequest, err error) {
	ctx, span := e.start(ctx, "CompleteReplacement", attribute.String("replacement.id", requestID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return lot.ReplacementRequest{}, err
	}
	r, err = e.mutateReplacement(ctx, requestID, func(r *lot.ReplacementRequest, now time.Time) (store.Change, error) {
		return store.Change{}, r.Complete(id.Actor(), notes, now)
	})
	if err != nil {
		return lot.ReplacementRequest{}, err
	}
	e.logger.Info("replacement completed", "requestId", requestID, "actorId", id.ActorID)
	return r, nil
}
