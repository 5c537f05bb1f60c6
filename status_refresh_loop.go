package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// refreshScheduler keeps the global snapshot warm. It refreshes once at
// start, then waits for a dirty signal, an optional periodic tick, or
// shutdown.
type refreshScheduler struct {
	cache    *StatusCache
	clock    clockwork.Clock
	interval time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func startRefreshScheduler(ctx context.Context, cache *StatusCache, clock clockwork.Clock, interval time.Duration) *refreshScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &refreshScheduler{
		cache:    cache,
		clock:    clock,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *refreshScheduler) run(ctx context.Context) {
	defer close(s.done)

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		s.refresh(ctx)

		select {
		case <-ctx.Done():
			logger.Info("status refresh scheduler stopped", "component", "status")
			return
		case <-s.cache.dirtySignal():
		case <-tick:
			// Periodic refresh picks up changes made behind our back.
			s.cache.invalidate()
		}
	}
}

func (s *refreshScheduler) refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := s.clock.Now()
	if err := s.cache.refreshGlobal(ctx); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		logger.Error("status refresh failed", "component", "status", "error", err)
		return
	}
	logger.Debug("status refreshed", "component", "status", "duration", s.clock.Since(start), "refreshes", s.cache.RefreshCount())
}

// Stop cancels the scheduler and waits for its goroutine to exit.
func (s *refreshScheduler) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(s.cancel)
	<-s.done
}
