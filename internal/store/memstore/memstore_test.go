package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store"
	"github.com/yourorg/lotflow/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestLoadReturnsCopy(t *testing.T) {
	s := New()
	l, _ := lot.New(lot.Actor{ID: "V1", Role: lot.RoleVendor}, lot.Descriptor{Name: "Bolts"}, time.Now())
	if err := s.CreateLot(context.Background(), &l); err != nil {
		t.Fatalf("CreateLot() error = %v", err)
	}
	got, _ := s.LoadLot(context.Background(), l.ID)
	got.Name = "changed"
	got.AuditTrail = append(got.AuditTrail, lot.AuditEntry{})
	again, _ := s.LoadLot(context.Background(), l.ID)
	if again.Name != "Bolts" || len(again.AuditTrail) != 0 {
		t.Errorf("stored lot mutated through a loaded copy: %+v", again)
	}
}

func TestConcurrentCommitsExactlyOneWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	depot := lot.Actor{ID: "D1", Role: lot.RoleDepotStaff}
	l, _ := lot.New(lot.Actor{ID: "V1", Role: lot.RoleVendor}, lot.Descriptor{Name: "Bolts"}, time.Now())
	if err := s.CreateLot(ctx, &l); err != nil {
		t.Fatalf("CreateLot() error = %v", err)
	}

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := l.Clone()
			if _, err := lot.Transition(&c, depot, lot.TransitionInput{Status: lot.StatusHeld}, time.Now()); err != nil {
				t.Errorf("Transition() error = %v", err)
				return
			}
			if err := s.Commit(ctx, store.Change{Lot: &c, LotVersion: 1}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}
