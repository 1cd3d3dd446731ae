// Package memstore is an in-memory Store used by tests and single-instance
// deployments that accept losing state on restart.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	lots         map[string]lot.Lot
	replacements map[string]lot.ReplacementRequest
	users        map[string]lot.User
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		lots:         make(map[string]lot.Lot),
		replacements: make(map[string]lot.ReplacementRequest),
		users:        make(map[string]lot.User),
	}
}

func (s *Store) CreateLot(ctx context.Context, l *lot.Lot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lots[l.ID]; ok {
		return lot.Errorf(lot.KindConflict, "lot %s already exists", l.ID)
	}
	l.Version = 1
	s.lots[l.ID] = l.Clone()
	return nil
}

func (s *Store) LoadLot(ctx context.Context, id string) (lot.Lot, error) {
	if err := ctx.Err(); err != nil {
		return lot.Lot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lots[id]
	if !ok {
		return lot.Lot{}, store.NotFound("lot", id)
	}
	return l.Clone(), nil
}

func (s *Store) LotIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.lots))
	for id := range s.lots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) LoadReplacement(ctx context.Context, id string) (lot.ReplacementRequest, error) {
	if err := ctx.Err(); err != nil {
		return lot.ReplacementRequest{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.replacements[id]
	if !ok {
		return lot.ReplacementRequest{}, store.NotFound("replacement request", id)
	}
	return r.Clone(), nil
}

func (s *Store) LoadUser(ctx context.Context, id string) (lot.User, error) {
	if err := ctx.Err(); err != nil {
		return lot.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return lot.User{}, store.NotFound("user", id)
	}
	return u.Clone(), nil
}

// Commit checks every version precondition before writing anything, so a
// rejected change leaves the maps untouched.
func (s *Store) Commit(ctx context.Context, c store.Change) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Lot != nil {
		cur, ok := s.lots[c.Lot.ID]
		if !ok {
			return store.NotFound("lot", c.Lot.ID)
		}
		if cur.Version != c.LotVersion {
			return store.Conflict("lot", c.Lot.ID, c.LotVersion)
		}
	}
	if r := c.Replacement; r != nil {
		cur, ok := s.replacements[r.ID]
		switch {
		case c.NewReplacement && ok:
			return lot.Errorf(lot.KindConflict, "replacement request %s already exists", r.ID)
		case !c.NewReplacement && !ok:
			return store.NotFound("replacement request", r.ID)
		case !c.NewReplacement && cur.Version != c.ReplacementVersion:
			return store.Conflict("replacement request", r.ID, c.ReplacementVersion)
		}
	}

	if c.Lot != nil {
		c.Lot.Version = c.LotVersion + 1
		s.lots[c.Lot.ID] = c.Lot.Clone()
	}
	if r := c.Replacement; r != nil {
		if c.NewReplacement {
			r.Version = 1
		} else {
			r.Version = c.ReplacementVersion + 1
		}
		s.replacements[r.ID] = r.Clone()
	}
	if c.Actor.ID != "" {
		u := s.users[c.Actor.ID]
		u.ID = c.Actor.ID
		u.DisplayName = c.Actor.DisplayName
		u.Role = c.Actor.Role
		for _, h := range c.History {
			u.History = append(u.History, h.Clone())
		}
		s.users[c.Actor.ID] = u
	}
	return nil
}

func (s *Store) Close() error { return nil }
