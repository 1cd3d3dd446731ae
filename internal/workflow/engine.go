// Package workflow runs lot operations against a store: it loads the lot,
// applies a domain function from package lot, commits with compare-and-swap
// and re-applies the whole operation when another writer got there first.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/lotflow/internal/auth"
	"github.com/yourorg/lotflow/internal/clock"
	"github.com/yourorg/lotflow/internal/evidence"
	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store"
)

// Locker serializes writers to one key across processes. Lock returns a
// release func; a contended lock returns an error matching lot.ErrConflict.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

// EvidenceChecker confirms that a photo key referenced by an action was
// actually uploaded.
type EvidenceChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Engine applies workflow operations to stored lots. Every write goes
// through an optimistic commit that is retried on version conflicts.
type Engine struct {
	store    store.Store
	locker   Locker
	evidence EvidenceChecker
	clock    clock.Clock
	cfg      Config
	issue    lot.IssuePolicy
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for entries and token expiry.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLocker serializes writers to the same lot across processes.
func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// WithEvidence makes Inspect and RequestReplacement reject photo keys that
// were not allocated for the lot or were never uploaded.
func WithEvidence(c EvidenceChecker) Option { return func(e *Engine) { e.evidence = c } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithPolicy applies an issuer policy to token issuance.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.issue = p.issuePolicy(e.cfg.TokenValidity) }
}

// NewEngine returns an engine over st. Zero config fields take their defaults.
func NewEngine(st store.Store, cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		store:  st,
		locker: noopLocker{},
		clock:  clock.Real(),
		cfg:    cfg,
		issue:  lot.IssuePolicy{Validity: cfg.TokenValidity},
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/yourorg/lotflow/internal/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		e.locker = noopLocker{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

func (e *Engine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "workflow."+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func requireIdentity(id auth.Identity) error {
	if id.ActorID == "" || !id.Role.Valid() {
		return lot.Errorf(lot.KindForbidden, "an authenticated caller is required")
	}
	return nil
}

func (e *Engine) checkEvidence(ctx context.Context, lotID string, keys []string) error {
	if e.evidence == nil {
		return nil
	}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !evidence.BelongsTo(key, lotID) {
			return lot.Errorf(lot.KindMissingFields, "photo %s does not belong to lot %s", key, lotID)
		}
		ok, err := e.evidence.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check evidence %s: %w", key, err)
		}
		if !ok {
			return lot.Errorf(lot.KindMissingFields, "photo %s has not been uploaded", key)
		}
	}
	return nil
}

// lotMutation mutates a loaded lot and describes what else to persist with
// it. The engine fills in Lot and LotVersion.
type lotMutation func(l *lot.Lot, now time.Time) (store.Change, error)

// mutateLot runs load, fn, commit until the commit succeeds, fn fails, or
// the attempt budget is spent. fn must be safe to call more than once; each
// call sees a freshly loaded lot.
func (e *Engine) mutateLot(ctx context.Context, lotID string, fn lotMutation) (lot.Lot, error) {
	return retry(ctx, e, "lot "+lotID, func() (lot.Lot, error) {
		unlock, err := e.locker.Lock(ctx, lotID)
		if err != nil {
			return lot.Lot{}, err
		}
		defer unlock()

		l, err := e.store.LoadLot(ctx, lotID)
		if err != nil {
			return lot.Lot{}, err
		}
		expected := l.Version
		change, err := fn(&l, e.clock.Now())
		if err != nil {
			return lot.Lot{}, err
		}
		change.Lot = &l
		change.LotVersion = expected
		if err := e.store.Commit(ctx, change); err != nil {
			return lot.Lot{}, err
		}
		return l, nil
	})
}

type replacementMutation func(r *lot.ReplacementRequest, now time.Time) (store.Change, error)

func (e *Engine) mutateReplacement(ctx context.Context, id string, fn replacementMutation) (lot.ReplacementRequest, error) {
	return retry(ctx, e, "replacement request "+id, func() (lot.ReplacementRequest, error) {
		unlock, err := e.locker.Lock(ctx, "replacement:"+id)
		if err != nil {
			return lot.ReplacementRequest{}, err
		}
		defer unlock()

		r, err := e.store.LoadReplacement(ctx, id)
		if err != nil {
			return lot.ReplacementRequest{}, err
		}
		expected := r.Version
		change, err := fn(&r, e.clock.Now())
		if err != nil {
			return lot.ReplacementRequest{}, err
		}
		change.Replacement = &r
		change.ReplacementVersion = expected
		if err := e.store.Commit(ctx, change); err != nil {
			return lot.ReplacementRequest{}, err
		}
		return r, nil
	})
}

// retry re-runs attempt while it fails with a conflict, sleeping with
// jittered exponential backoff between tries.
func retry[T any](ctx context.Context, e *Engine, what string, attempt func() (T, error)) (T, error) {
	var zero T
	for n := 1; ; n++ {
		v, err := attempt()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, lot.ErrConflict) {
			return zero, err
		}
		if n >= e.cfg.MaxCommitAttempts {
			e.logger.Warn("commit attempts exhausted", "target", what, "attempts", n)
			return zero, lot.Errorf(lot.KindConflict, "%s: concurrent update conflict after %d attempts", what, n)
		}
		select {
		case <-time.After(e.backoff(n)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.RetryBaseDelay << (attempt - 1)
	if d <= 0 || d > e.cfg.RetryMaxDelay {
		d = e.cfg.RetryMaxDelay
	}
	return d/2 + rand.N(d/2+1)
}
