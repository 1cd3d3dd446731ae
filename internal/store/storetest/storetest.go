// Package storetest holds behavior checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store"
)

var (
	now      = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	vendor   = lot.Actor{ID: "V1", DisplayName: "Vendor One", Role: lot.RoleVendor}
	depot    = lot.Actor{ID: "D1", DisplayName: "Depot One", Role: lot.RoleDepotStaff}
	worker   = lot.Actor{ID: "T1", DisplayName: "Track One", Role: lot.RoleTrackWorker}
	inspectr = lot.Actor{ID: "I1", DisplayName: "Inspector One", Role: lot.RoleInspector}
)

// Run exercises s against the store contract. newStore must return an empty
// store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("CreateAndLoad", func(t *testing.T) { testCreateAndLoad(t, newStore(t)) })
	t.Run("CommitBumpsVersion", func(t *testing.T) { testCommitBumpsVersion(t, newStore(t)) })
	t.Run("StaleCommitConflicts", func(t *testing.T) { testStaleCommit(t, newStore(t)) })
	t.Run("ReplacementAndHistory", func(t *testing.T) { testReplacementAndHistory(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
}

func createLot(t *testing.T, s store.Store) lot.Lot {
	t.Helper()
	l, err := lot.New(vendor, lot.Descriptor{Name: "Sleepers", BatchNumber: "B-1"}, now)
	if err != nil {
		t.Fatalf("lot.New() error = %v", err)
	}
	if err := s.CreateLot(context.Background(), &l); err != nil {
		t.Fatalf("CreateLot() error = %v", err)
	}
	return l
}

func testCreateAndLoad(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := createLot(t, s)
	if l.Version != 1 {
		t.Errorf("version after create = %d, want 1", l.Version)
	}
	got, err := s.LoadLot(ctx, l.ID)
	if err != nil {
		t.Fatalf("LoadLot() error = %v", err)
	}
	if got.Name != "Sleepers" || got.Status != lot.StatusPending || got.Version != 1 {
		t.Errorf("loaded = %+v", got)
	}
	if err := s.CreateLot(ctx, &l); !errors.Is(err, lot.ErrConflict) {
		t.Errorf("duplicate create: err = %v, want conflict", err)
	}
	ids, err := s.LotIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != l.ID {
		t.Errorf("LotIDs() = %v, %v", ids, err)
	}
}

func testCommitBumpsVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := createLot(t, s)
	entry, err := lot.Transition(&l, depot, lot.TransitionInput{Status: lot.StatusAccepted}, now)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	err = s.Commit(ctx, store.Change{
		Lot: &l, LotVersion: 1,
		Actor: depot, History: []lot.UserHistoryEntry{lot.MirrorEntry(l.ID, entry)},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if l.Version != 2 {
		t.Errorf("version after commit = %d, want 2", l.Version)
	}
	got, err := s.LoadLot(ctx, l.ID)
	if err != nil {
		t.Fatalf("LoadLot() error = %v", err)
	}
	if got.Status != lot.StatusAccepted || len(got.AuditTrail) != 1 || got.Version != 2 {
		t.Errorf("loaded = %+v", got)
	}
	if bad := got.VerifyChain(); bad != 0 {
		t.Errorf("chain broken at %d after reload", bad)
	}
}

func testStaleCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := createLot(t, s)
	a, b := l.Clone(), l.Clone()

	entryA, _ := lot.Install(&a, worker, lot.InstallInput{Location: "Y1", Section: "S1"}, now)
	if err := s.Commit(ctx, store.Change{Lot: &a, LotVersion: 1, Actor: worker, History: []lot.UserHistoryEntry{lot.MirrorEntry(a.ID, entryA)}}); err != nil {
		t.Fatalf("first Commit() error = %v", err)
	}
	entryB, _ := lot.Install(&b, worker, lot.InstallInput{Location: "Y2", Section: "S2"}, now)
	err := s.Commit(ctx, store.Change{Lot: &b, LotVersion: 1, Actor: worker, History: []lot.UserHistoryEntry{lot.MirrorEntry(b.ID, entryB)}})
	if !errors.Is(err, lot.ErrConflict) {
		t.Fatalf("stale Commit() err = %v, want conflict", err)
	}
	if b.Version != 1 {
		t.Errorf("failed commit bumped version to %d", b.Version)
	}
	u, err := s.LoadUser(ctx, worker.ID)
	if err != nil {
		t.Fatalf("LoadUser() error = %v", err)
	}
	if len(u.History) != 1 {
		t.Errorf("history length = %d, want 1 (failed commit must not append)", len(u.History))
	}
}

func testReplacementAndHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	l := createLot(t, s)
	req, entry, err := lot.RequestReplacement(&l, inspectr, lot.ReplacementInput{Reason: lot.ReasonWorn, Description: "worn rail"}, now)
	if err != nil {
		t.Fatalf("RequestReplacement() error = %v", err)
	}
	err = s.Commit(ctx, store.Change{
		Lot: &l, LotVersion: l.Version,
		Replacement: &req, NewReplacement: true,
		Actor: inspectr, History: []lot.UserHistoryEntry{lot.MirrorEntry(l.ID, entry)},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if req.Version != 1 {
		t.Errorf("request version = %d, want 1", req.Version)
	}

	if err := req.Review(depot, lot.ReviewInput{Decision: lot.ReplacementApproved}, now); err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if err := s.Commit(ctx, store.Change{Replacement: &req, ReplacementVersion: 1}); err != nil {
		t.Fatalf("review Commit() error = %v", err)
	}
	stale := req.Clone()
	stale.Version = 1
	if err := s.Commit(ctx, store.Change{Replacement: &stale, ReplacementVersion: 1}); !errors.Is(err, lot.ErrConflict) {
		t.Errorf("stale replacement commit: err = %v, want conflict", err)
	}

	got, err := s.LoadReplacement(ctx, req.ID)
	if err != nil {
		t.Fatalf("LoadReplacement() error = %v", err)
	}
	if got.Status != lot.ReplacementApproved || got.ReviewedBy != depot.ID || got.Version != 2 {
		t.Errorf("loaded request = %+v", got)
	}

	u, err := s.LoadUser(ctx, inspectr.ID)
	if err != nil {
		t.Fatalf("LoadUser() error = %v", err)
	}
	if u.DisplayName != inspectr.DisplayName || len(u.History) != 1 {
		t.Fatalf("user = %+v", u)
	}
	meta, ok := u.History[0].Metadata.(lot.ReplacementRequested)
	if !ok || meta.RequestID != req.ID {
		t.Errorf("history metadata = %#v", u.History[0].Metadata)
	}
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.LoadLot(ctx, "missing"); !errors.Is(err, lot.ErrNotFound) {
		t.Errorf("LoadLot: err = %v", err)
	}
	if _, err := s.LoadReplacement(ctx, "missing"); !errors.Is(err, lot.ErrNotFound) {
		t.Errorf("LoadReplacement: err = %v", err)
	}
	if _, err := s.LoadUser(ctx, "missing"); !errors.Is(err, lot.ErrNotFound) {
		t.Errorf("LoadUser: err = %v", err)
	}
	ghost := lot.Lot{ID: "ghost"}
	if err := s.Commit(ctx, store.Change{Lot: &ghost, LotVersion: 1}); !errors.Is(err, lot.ErrNotFound) {
		t.Errorf("Commit unknown lot: err = %v", err)
	}
}
