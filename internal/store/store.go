// Package store defines the persistence contract for lots, replacement
// requests and user histories. Implementations live in subpackages.
package store

import (
	"context"
	"fmt"

	"github.com/yourorg/lotflow/internal/lot"
)

// Change is the unit of atomic persistence. Lot and Replacement writes are
// conditioned on the expected versions; History entries are appended to the
// Actor's user record, which is created or refreshed as part of the commit.
// On success the store bumps Version on the passed Lot and Replacement.
type Change struct {
	Lot        *lot.Lot
	LotVersion int64

	Replacement        *lot.ReplacementRequest
	ReplacementVersion int64
	NewReplacement     bool

	Actor   lot.Actor
	History []lot.UserHistoryEntry
}

// Store persists lots with compare-and-swap semantics. Loads return copies;
// mutating a returned value never affects stored state.
type Store interface {
	CreateLot(ctx context.Context, l *lot.Lot) error
	LoadLot(ctx context.Context, id string) (lot.Lot, error)
	LotIDs(ctx context.Context) ([]string, error)
	LoadReplacement(ctx context.Context, id string) (lot.ReplacementRequest, error)
	LoadUser(ctx context.Context, id string) (lot.User, error)
	// Commit applies c all-or-nothing. A version mismatch returns an error
	// matching lot.ErrConflict and leaves every record untouched.
	Commit(ctx context.Context, c Change) error
	Close() error
}

// NotFound builds the not-found error stores return for a missing record.
func NotFound(kind, id string) error {
	return lot.Errorf(lot.KindNotFound, "%s %s not found", kind, id)
}

// Conflict builds the version-mismatch error.
func Conflict(kind, id string, expected int64) error {
	return lot.Errorf(lot.KindConflict, "%s %s changed since version %d", kind, id, expected)
}

// Validate checks that c is internally consistent before a store applies it.
func (c Change) Validate() error {
	if c.Lot == nil && c.Replacement == nil && len(c.History) == 0 {
		return fmt.Errorf("empty change")
	}
	if len(c.History) > 0 && c.Actor.ID == "" {
		return fmt.Errorf("history without actor")
	}
	if c.NewReplacement && c.Replacement == nil {
		return fmt.Errorf("new replacement flag without replacement")
	}
	return nil
}
