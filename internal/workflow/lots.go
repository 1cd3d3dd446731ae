package workflow

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/lotflow/internal/auth"
	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store"
)

// CreateLot registers a new pending lot owned by the calling vendor.
func (e *Engine) CreateLot(ctx context.Context, id auth.Identity, d lot.Descriptor) (l lot.Lot, err error) {
	ctx, span := e.start(ctx, "CreateLot", attribute.String("actor.id", id.ActorID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return lot.Lot{}, err
	}
	l, err = lot.New(id.Actor(), d, e.clock.Now())
	if err != nil {
		return lot.Lot{}, err
	}
	if err := e.store.CreateLot(ctx, &l); err != nil {
		return lot.Lot{}, err
	}
	e.logger.Info("lot created", "lotId", l.ID, "actorId", id.ActorID)
	return l, nil
}

// GetLot returns the lot to any authenticated caller.
func (e *Engine) GetLot(ctx context.Context, id auth.Identity, lotID string) (l lot.Lot, err error) {
	ctx, span := e.start(ctx, "GetLot", attribute.String("lot.id", lotID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return lot.Lot{}, err
	}
	return e.store.LoadLot(ctx, lotID)
}

// AuditFilter narrows an audit query. Zero fields match everything.
type AuditFilter struct {
	Actions []lot.Action
	ActorID string
	From    time.Time
	To      time.Time
}

func (f AuditFilter) predicate() lot.Predicate {
	var preds []lot.Predicate
	if len(f.Actions) > 0 {
		preds = append(preds, lot.WithAction(f.Actions...))
	}
	if f.ActorID != "" {
		preds = append(preds, lot.ByActor(f.ActorID))
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		preds = append(preds, lot.Between(f.From, f.To))
	}
	return lot.All(preds...)
}

// AuditReport is the filtered trail plus the integrity check of the whole
// chain. BrokenAt is 0 when every hash verifies.
type AuditReport struct {
	LotID    string           `json:"lotId"`
	Entries  []lot.AuditEntry `json:"entries"`
	Total    int              `json:"total"`
	BrokenAt int              `json:"brokenAt"`
}

// AuditTrail returns the entries matching f together with a chain check.
func (e *Engine) AuditTrail(ctx context.Context, id auth.Identity, lotID string, f AuditFilter) (r AuditReport, err error) {
	ctx, span := e.start(ctx, "AuditTrail", attribute.String("lot.id", lotID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return AuditReport{}, err
	}
	l, err := e.store.LoadLot(ctx, lotID)
	if err != nil {
		return AuditReport{}, err
	}
	entries := slices.Collect(l.Query(f.predicate()))
	if entries == nil {
		entries = []lot.AuditEntry{}
	}
	return AuditReport{LotID: l.ID, Entries: entries, Total: len(l.AuditTrail), BrokenAt: l.VerifyChain()}, nil
}

// UserHistory returns the caller's own history. A caller who has never acted
// has an empty history.
func (e *Engine) UserHistory(ctx context.Context, id auth.Identity) (h []lot.UserHistoryEntry, err error) {
	ctx, span := e.start(ctx, "UserHistory", attribute.String("actor.id", id.ActorID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return nil, err
	}
	u, err := e.store.LoadUser(ctx, id.ActorID)
	if lot.KindOf(err) == lot.KindNotFound {
		return []lot.UserHistoryEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	if u.History == nil {
		return []lot.UserHistoryEntry{}, nil
	}
	return u.History, nil
}

func mirror(id auth.Identity, lotID string, entries ...lot.AuditEntry) store.Change {
	c := store.Change{Actor: id.Actor()}
	for _, entry := range entries {
		c.History = append(c.History, lot.MirrorEntry(lotID, entry))
	}
	return c
}

// Transition changes lot status. Only depot staff may do so.
func (e *Engine) Transition(ctx context.Context, id auth.Identity, lotID string, in lot.TransitionInput) (l lot.Lot, err error) {
	ctx, span := e.start(ctx, "Transition", attribute.String("lot.id", lotID), attribute.String("lot.status", string(in.Status)))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return lot.Lot{}, err
	}
	l, err = e.mutateLot(ctx, lotID, func(l *lot.Lot, now time.Time) (store.Change, error) {
		entry, err := lot.Transition(l, id.Actor(), in, now)
		if err != nil {
			return store.Change{}, err
		}
		return mirror(id, l.ID, entry), nil
	})
	if err != nil {
		return lot.Lot{}, err
	}
	e.logger.Info("lot status changed", "lotId", lotID, "actorId", id.ActorID, "status", l.Status)
	return l, nil
}

// Install records an installation on the lot. Only track workers may install.
func (e *Engine) Install(ctx context.Context, id auth.Identity, lotID string, in lot.InstallInput) (l lot.Lot, err error) {
	ctx, span := e.start(ctx, "Install", attribute.String("lot.id", lotID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return lot.Lot{}, err
	}
	return e.mutateLot(ctx, lotID, func(l *lot.Lot, now time.Time) (store.Change, error) {
		entry, err := lot.Install(l, id.Actor(), in, now)
		if err != nil {
			return store.Change{}, err
		}
		return mirror(id, l.ID, entry), nil
	})
}

// Inspect records an inspection outcome. Only inspectors may inspect, and
// photo keys are checked when an evidence checker is configured.
func (e *Engine) Inspect(ctx context.Context, id auth.Identity, lotID string, in lot.InspectInput) (l lot.Lot, err error) {
	ctx, span := e.start(ctx, "Inspect", attribute.String("lot.id", lotID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return lot.Lot{}, err
	}
	if err := e.checkEvidence(ctx, lotID, in.Photos); err != nil {
		return lot.Lot{}, err
	}
	return e.mutateLot(ctx, lotID, func(l *lot.Lot, now time.Time) (store.Change, error) {
		entry, err := lot.Inspect(l, id.Actor(), in, now)
		if err != nil {
			return store.Change{}, err
		}
		return mirror(id, l.ID, entry), nil
	})
}

// RequestReplacement records the request on the lot and stores the new
// pending request in the same commit. The requester's history entry points at
// the request.
func (e *Engine) RequestReplacement(ctx context.Context, id auth.Identity, lotID string, in lot.ReplacementInput) (l lot.Lot, req lot.ReplacementRequest, err error) {
	ctx, span := e.start(ctx, "RequestReplacement", attribute.String("lot.id", lotID))
	defer func() { finish(span, err) }()

	if err := requireIdentity(id); err != nil {
		return lot.Lot{}, lot.ReplacementRequest{}, err
	}
	if err := e.checkEvidence(ctx, lotID, in.Photos); err != nil {
		return lot.Lot{}, lot.ReplacementRequest{}, err
	}
	l, err = e.mutateLot(ctx, lotID, func(l *lot.Lot, now time.Time) (store.Change, error) {
		r, entry, err := lot.RequestReplacement(l, id.Actor(), in, now)
		if err != nil {
			return store.Change{}, err
		}
		req = r
		h := lot.MirrorEntry(l.ID, entry)
		h.TargetType = lot.TargetReplacementRequest
		h.TargetID = r.ID
		return store.Change{
			Replacement:    &req,
			NewReplacement: true,
			Actor:          id.Actor(),
			History:        []lot.UserHistoryEntry{h},
		}, nil
	})
	if err != nil {
		return lot.Lot{}, lot.ReplacementRequest{}, err
	}
	e.logger.Info("replacement requested", "lotId", lotID, "requestId", req.ID, "actorId", id.ActorID, "priority", req.Priority)
	return l, req, nil
}
