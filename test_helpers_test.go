package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStatusData is the content a fake transaction observes.
type fakeStatusData struct {
	// counts[dataset][state]; the "" dataset holds global counts.
	counts   map[string]map[ApprovalState]int64
	users    int64
	topUsers []UserStatus
}

// fakeStatusStore is an in-memory StatusStore. Each transaction sees the
// data as it was at BeginStatusTx.
type fakeStatusStore struct {
	mu        sync.Mutex
	data      fakeStatusData
	failures  []error
	begins    int
	commits   int
	rollbacks int
	// gate, when set, blocks CountUsers until it is closed.
	gate chan struct{}
	// entered receives one value per transaction that reached CountUsers.
	entered chan struct{}
}

func newFakeStatusStore(data fakeStatusData) *fakeStatusStore {
	return &fakeStatusStore{data: data}
}

func (s *fakeStatusStore) setData(data fakeStatusData) {
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}

// failNext queues errors returned by the next attempts, one per attempt.
func (s *fakeStatusStore) failNext(errs ...error) {
	s.mu.Lock()
	s.failures = append(s.failures, errs...)
	s.mu.Unlock()
}

func (s *fakeStatusStore) stats() (begins, commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.commits, s.rollbacks
}

func (s *fakeStatusStore) BeginStatusTx(ctx context.Context) (StatusTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	tx := &fakeStatusTx{store: s, data: s.data, gate: s.gate, entered: s.entered}
	if len(s.failures) > 0 {
		tx.fail = s.failures[0]
		s.failures = s.failures[1:]
	}
	return tx, nil
}

type fakeStatusTx struct {
	store   *fakeStatusStore
	data    fakeStatusData
	fail    error
	gate    chan struct{}
	entered chan struct{}
}

func (t *fakeStatusTx) CountStatements(ctx context.Context, state ApprovalState, dataset string) (int64, error) {
	if t.fail != nil {
		return 0, t.fail
	}
	return t.data.counts[dataset][state], nil
}

func (t *fakeStatusTx) CountUsers(ctx context.Context) (int64, error) {
	if t.entered != nil {
		t.entered <- struct{}{}
	}
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return t.data.users, nil
}

func (t *fakeStatusTx) TopUsers(ctx context.Context, limit int) ([]UserStatus, error) {
	users := append([]UserStatus(nil), t.data.topUsers...)
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (t *fakeStatusTx) Commit() error {
	t.store.mu.Lock()
	t.store.commits++
	t.store.mu.Unlock()
	return nil
}

func (t *fakeStatusTx) Rollback() error {
	t.store.mu.Lock()
	t.store.rollbacks++
	t.store.mu.Unlock()
	return nil
}

type fakeMemoryProbe struct {
	mu    sync.Mutex
	usage MemoryUsage
	err   error
}

func (p *fakeMemoryProbe) set(usage MemoryUsage, err error) {
	p.mu.Lock()
	p.usage = usage
	p.err = err
	p.mu.Unlock()
}

func (p *fakeMemoryProbe) CurrentUsage() (MemoryUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage, p.err
}

var errFakeBusy = markTransient(errors.New("database is locked"))

// scenarioData is the reference data set: 100 statements, 40 users.
func scenarioData() fakeStatusData {
	return fakeStatusData{
		counts: map[string]map[ApprovalState]int64{
			"": {
				StateAny:         100,
				StateApproved:    60,
				StateUnapproved:  30,
				StateDuplicate:   5,
				StateBlacklisted: 3,
				StateWrong:       2,
			},
			"freebase": {
				StateAny:        12,
				StateApproved:   4,
				StateUnapproved: 8,
			},
		},
		users:    40,
		topUsers: []UserStatus{{Name: "u1", Activities: 50}, {Name: "u2", Activities: 20}},
	}
}

func newTestStatusCache(store StatusStore, probe MemoryProbe) *StatusCache {
	return NewStatusCache(statusCacheOptions{
		Store:   store,
		Probe:   probe,
		Version: "test-version",
	})
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
