package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/remeh/sizedwaitgroup"
	"golang.org/x/sync/singleflight"
)

const (
	startupTimeLayout          = "2006-01-02T15:04:05Z"
	defaultFilteredConcurrency = 4
	globalRefreshKey           = "global"
)

type statusCacheOptions struct {
	Store StatusStore
	Probe MemoryProbe
	// Clock defaults to the real clock.
	Clock        clockwork.Clock
	Retry        RetryPolicy
	QueryTimeout time.Duration
	// FilteredConcurrency bounds how many uncached dataset views may query
	// the store at the same time.
	FilteredConcurrency int
	Version             string
}

// StatusCache keeps the global status snapshot warm and hands out copies of
// it. The expensive aggregate part is recomputed only while the cache is
// dirty; memory figures are refreshed on every read.
type StatusCache struct {
	store        StatusStore
	probe        MemoryProbe
	clock        clockwork.Clock
	retry        RetryPolicy
	queryTimeout time.Duration
	version      string
	startedAt    time.Time

	mu          sync.Mutex
	status      StatusSnapshot
	dirty       bool
	dirtyGen    uint64
	lastRefresh time.Time

	refreshErrors refreshErrorHistory

	refreshGroup singleflight.Group
	refreshes    atomic.Uint64
	filtered     sizedwaitgroup.SizedWaitGroup

	// wake carries at most one pending dirty signal for the scheduler.
	wake chan struct{}
}

func NewStatusCache(opts statusCacheOptions) *StatusCache {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	version := opts.Version
	if version == "" {
		version = resolveBuildVersion()
	}
	limit := opts.FilteredConcurrency
	if limit <= 0 {
		limit = defaultFilteredConcurrency
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultRetryMaxAttempts
	}

	now := clock.Now().UTC()
	c := &StatusCache{
		store:        opts.Store,
		probe:        opts.Probe,
		clock:        clock,
		retry:        retry,
		queryTimeout: opts.QueryTimeout,
		version:      version,
		startedAt:    now,
		dirty:        true,
		filtered:     sizedwaitgroup.New(limit),
		wake:         make(chan struct{}, 1),
	}
	c.status.System.Startup = now.Format(startupTimeLayout)
	c.status.System.Version = version
	return c
}

// Version returns the build identifier the cache was created with.
func (c *StatusCache) Version() string {
	return c.version
}

// Uptime is measured from cache construction.
func (c *StatusCache) Uptime() time.Duration {
	return c.clock.Since(c.startedAt)
}

func (c *StatusCache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// RefreshCount is the number of global refreshes that published data.
func (c *StatusCache) RefreshCount() uint64 {
	return c.refreshes.Load()
}

// LastRefresh is when global aggregates were last published; zero before
// the first successful refresh.
func (c *StatusCache) LastRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefresh
}

// RecentRefreshErrors lists failed global refreshes newer than maxAge,
// newest first.
func (c *StatusCache) RecentRefreshErrors(maxAge time.Duration) []RefreshError {
	return c.refreshErrors.recent(c.clock.Now(), maxAge)
}

// MarkDirty invalidates the global aggregates and wakes the refresh
// scheduler if it is waiting.
func (c *StatusCache) MarkDirty() {
	c.invalidate()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *StatusCache) invalidate() {
	c.mu.Lock()
	c.dirty = true
	c.dirtyGen++
	c.mu.Unlock()
}

func (c *StatusCache) dirtySignal() <-chan struct{} {
	return c.wake
}

// GetStatus returns a point-in-time copy of the status for dataset. The
// empty dataset selects the cached global view, refreshed first when dirty;
// if that refresh fails the last good snapshot is returned together with
// the error. Any other dataset is computed from the store on every call.
func (c *StatusCache) GetStatus(ctx context.Context, dataset string) (StatusSnapshot, error) {
	c.updateMemory()
	if dataset == "" {
		return c.globalStatus(ctx)
	}
	return c.datasetStatus(ctx, dataset)
}

func (c *StatusCache) globalStatus(ctx context.Context) (StatusSnapshot, error) {
	var err error
	if c.Dirty() {
		// A refresh may be shared with other readers and the scheduler, so
		// one caller going away must not abort it.
		if err = c.refreshGlobal(context.WithoutCancel(ctx)); err != nil {
			err = fmt.Errorf("refresh status: %w", err)
		}
	}

	c.mu.Lock()
	snap := c.status.clone()
	snap.Dirty = c.dirty
	c.mu.Unlock()
	return snap, err
}

func (c *StatusCache) datasetStatus(ctx context.Context, dataset string) (StatusSnapshot, error) {
	if err := c.filtered.AddWithContext(ctx); err != nil {
		return StatusSnapshot{}, err
	}
	agg, err := c.fetchAggregates(ctx, dataset)
	c.filtered.Done()
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("status for dataset %q: %w", dataset, err)
	}

	c.mu.Lock()
	snap := StatusSnapshot{
		System:   c.status.System,
		Requests: c.status.Requests,
	}
	c.mu.Unlock()

	snap.Dataset = dataset
	snap.Statements = agg.Statements
	snap.TotalUsers = agg.TotalUsers
	snap.TopUsers = agg.TopUsers
	return snap, nil
}

// refreshGlobal recomputes the global aggregates if they are still dirty.
// Concurrent callers share a single in-flight refresh.
func (c *StatusCache) refreshGlobal(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do(globalRefreshKey, func() (any, error) {
		c.mu.Lock()
		if !c.dirty {
			c.mu.Unlock()
			return nil, nil
		}
		gen := c.dirtyGen
		c.mu.Unlock()

		agg, err := c.fetchAggregates(ctx, "")
		if err != nil {
			c.refreshErrors.record(c.clock.Now(), err)
			return nil, err
		}

		c.mu.Lock()
		c.lastRefresh = c.clock.Now()
		c.status.Statements = agg.Statements
		c.status.TotalUsers = agg.TotalUsers
		c.status.TopUsers = agg.TopUsers
		// Invalidations that raced with the queries keep the cache dirty.
		if c.dirtyGen == gen {
			c.dirty = false
		}
		c.mu.Unlock()

		c.refreshes.Add(1)
		return nil, nil
	})
	return err
}

func (c *StatusCache) fetchAggregates(ctx context.Context, dataset string) (statusAggregates, error) {
	if c.store == nil {
		return statusAggregates{}, errors.New("status store not configured")
	}
	var agg statusAggregates
	err := c.retry.Do(ctx, "status refresh", func(ctx context.Context, attempt int) error {
		attemptCtx := ctx
		if c.queryTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.queryTimeout)
			defer cancel()
		}
		a, err := c.queryAggregates(attemptCtx, dataset)
		if err != nil {
			if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return markTransient(err)
			}
			return err
		}
		agg = a
		return nil
	})
	return agg, err
}

// queryAggregates runs one refresh attempt inside a single transaction.
func (c *StatusCache) queryAggregates(ctx context.Context, dataset string) (statusAggregates, error) {
	tx, err := c.store.BeginStatusTx(ctx)
	if err != nil {
		return statusAggregates{}, fmt.Errorf("begin status tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var agg statusAggregates
	counts := []struct {
		state ApprovalState
		dst   *int64
	}{
		{StateAny, &agg.Statements.Total},
		{StateApproved, &agg.Statements.Approved},
		{StateUnapproved, &agg.Statements.Unapproved},
		{StateDuplicate, &agg.Statements.Duplicate},
		{StateBlacklisted, &agg.Statements.Blacklisted},
		{StateWrong, &agg.Statements.Wrong},
	}
	for _, cnt := range counts {
		n, err := tx.CountStatements(ctx, cnt.state, dataset)
		if err != nil {
			return statusAggregates{}, err
		}
		*cnt.dst = n
	}
	if agg.TotalUsers, err = tx.CountUsers(ctx); err != nil {
		return statusAggregates{}, err
	}
	users, err := tx.TopUsers(ctx, topUsersLimit)
	if err != nil {
		return statusAggregates{}, err
	}

	if err := tx.Commit(); err != nil {
		return statusAggregates{}, fmt.Errorf("commit status tx: %w", err)
	}
	committed = true

	agg.TopUsers = rankTopUsers(users, topUsersLimit)
	return agg, nil
}

// rankTopUsers orders by activity, most active first, keeping the store's
// order among ties, and caps the list at limit entries.
func rankTopUsers(users []UserStatus, limit int) []UserStatus {
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Activities > users[j].Activities
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users
}

func (c *StatusCache) updateMemory() {
	if c.probe == nil {
		return
	}
	usage, err := c.probe.CurrentUsage()
	if err != nil {
		logger.Debug("memory probe failed", "component", "status", "error", err)
		return
	}
	c.mu.Lock()
	c.status.System.SharedMemory = usage.Shared
	c.status.System.PrivateMemory = usage.Private
	c.status.System.ResidentSetSize = usage.Resident
	c.mu.Unlock()
}
