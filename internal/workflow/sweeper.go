package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yourorg/lotflow/internal/auth"
)

// SweepResult summarizes one pass over every lot.
type SweepResult struct {
	Lots    int
	Removed int
	Failed  int
}

// Sweep prunes expired tokens from every stored lot as the system identity.
// At most workers lots are pruned concurrently.
func (e *Engine) Sweep(ctx context.Context, workers int) (SweepResult, error) {
	ids, err := e.store.LotIDs(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	if workers < 1 {
		workers = 1
	}

	var (
		mu    sync.Mutex
		res   = SweepResult{Lots: len(ids)}
		wg    sync.WaitGroup
		slots = make(chan struct{}, workers)
	)
	for _, id := range ids {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return res, ctx.Err()
		}
		wg.Add(1)
		go func() {
			defer func() { <-slots; wg.Done() }()
			n, err := e.PruneExpiredTokens(ctx, auth.SystemIdentity, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				if !errors.Is(err, context.Canceled) {
					e.logger.Warn("token sweep failed", "lotId", id, "error", err)
				}
				return
			}
			res.Removed += n
		}()
	}
	wg.Wait()
	return res, nil
}

// Sweeper runs Sweep on a fixed interval until its context ends.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	workers  int
}

// NewSweeper returns a sweeper running every interval with the given
// concurrency. A non-positive interval uses the configured sweep interval.
func NewSweeper(e *Engine, interval time.Duration, workers int) *Sweeper {
	if interval <= 0 {
		interval = e.cfg.SweepInterval
	}
	return &Sweeper{engine: e, interval: interval, workers: workers}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.engine.logger.Info("token sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.engine.logger.Info("token sweeper stopped")
			return
		case <-ticker.C:
			res, err := s.engine.Sweep(ctx, s.workers)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.engine.logger.Error("token sweep aborted", "error", err)
				continue
			}
			if res.Removed > 0 || res.Failed > 0 {
				s.engine.logger.Info("token sweep finished", "lots", res.Lots, "removed", res.Removed, "failed", res.Failed)
			}
		}
	}
}
