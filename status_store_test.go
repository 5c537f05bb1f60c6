package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTestStatusStore(t *testing.T) *sqliteStatusStore {
	t.Helper()
	store, err := openStatusStore(filepath.Join(t.TempDir(), "db", "status.db"))
	if err != nil {
		t.Fatalf("openStatusStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertStatements(t *testing.T, db *sql.DB, dataset string, state ApprovalState, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := db.Exec(
			`INSERT INTO statements (subject, property, object, state, dataset) VALUES (?, ?, ?, ?, ?)`,
			fmt.Sprintf("Q%d", i), "P31", "Q5", int(state), dataset,
		); err != nil {
			t.Fatalf("insert statement: %v", err)
		}
	}
}

func insertUserActivity(t *testing.T, db *sql.DB, user string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := db.Exec(`INSERT INTO userlog (user_name, stmt, state) VALUES (?, ?, ?)`, user, i, int(StateApproved)); err != nil {
			t.Fatalf("insert userlog: %v", err)
		}
	}
}

// seedReferenceData loads 100 statements (60/30/5/3/2 by state) and 40
// users of which u1 and u2 are the most active.
func seedReferenceData(t *testing.T, db *sql.DB) {
	t.Helper()
	insertStatements(t, db, "freebase", StateApproved, 60)
	insertStatements(t, db, "freebase", StateUnapproved, 10)
	insertStatements(t, db, "wikipedia", StateUnapproved, 20)
	insertStatements(t, db, "wikipedia", StateDuplicate, 5)
	insertStatements(t, db, "wikipedia", StateBlacklisted, 3)
	insertStatements(t, db, "wikipedia", StateWrong, 2)

	insertUserActivity(t, db, "u1", 50)
	insertUserActivity(t, db, "u2", 20)
	for i := 0; i < 38; i++ {
		insertUserActivity(t, db, fmt.Sprintf("user%02d", i), 1)
	}
}

func TestOpenStatusStoreRejectsEmptyPath(t *testing.T) {
	if _, err := openStatusStore("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestOpenStatusStoreIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	for i := 0; i < 2; i++ {
		store, err := openStatusStore(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close #%d: %v", i, err)
		}
	}
}

func TestSQLiteStatusTxCounts(t *testing.T) {
	store := openTestStatusStore(t)
	seedReferenceData(t, store.db)
	ctx := context.Background()

	tx, err := store.BeginStatusTx(ctx)
	if err != nil {
		t.Fatalf("BeginStatusTx: %v", err)
	}
	defer tx.Rollback()

	tests := []struct {
		state   ApprovalState
		dataset string
		want    int64
	}{
		{StateAny, "", 100},
		{StateApproved, "", 60},
		{StateUnapproved, "", 30},
		{StateDuplicate, "", 5},
		{StateBlacklisted, "", 3},
		{StateWrong, "", 2},
		{StateAny, "freebase", 70},
		{StateUnapproved, "freebase", 10},
		{StateUnapproved, "wikipedia", 20},
		{StateAny, "missing", 0},
	}
	for _, tt := range tests {
		got, err := tx.CountStatements(ctx, tt.state, tt.dataset)
		if err != nil {
			t.Fatalf("CountStatements(%s, %q): %v", tt.state, tt.dataset, err)
		}
		if got != tt.want {
			t.Fatalf("CountStatements(%s, %q) = %d, want %d", tt.state, tt.dataset, got, tt.want)
		}
	}

	users, err := tx.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	if users != 40 {
		t.Fatalf("CountUsers = %d, want 40", users)
	}

	top, err := tx.TopUsers(ctx, 3)
	if err != nil {
		t.Fatalf("TopUsers: %v", err)
	}
	want := []UserStatus{{Name: "u1", Activities: 50}, {Name: "u2", Activities: 20}, {Name: "user00", Activities: 1}}
	if diff := cmp.Diff(want, top); diff != "" {
		t.Fatalf("TopUsers mismatch (-want +got):\n%s", diff)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestSQLiteStatusTxEmptyDatabase(t *testing.T) {
	store := openTestStatusStore(t)
	ctx := context.Background()
	tx, err := store.BeginStatusTx(ctx)
	if err != nil {
		t.Fatalf("BeginStatusTx: %v", err)
	}
	defer tx.Rollback()

	if n, err := tx.CountStatements(ctx, StateAny, ""); err != nil || n != 0 {
		t.Fatalf("CountStatements = %d, %v", n, err)
	}
	top, err := tx.TopUsers(ctx, topUsersLimit)
	if err != nil {
		t.Fatalf("TopUsers: %v", err)
	}
	if len(top) != 0 {
		t.Fatalf("expected no top users, got %+v", top)
	}
	if top, _ := tx.TopUsers(ctx, 0); top != nil {
		t.Fatalf("expected nil for zero limit")
	}
}

func TestBeginStatusTxAfterClose(t *testing.T) {
	var store *sqliteStatusStore
	if _, err := store.BeginStatusTx(context.Background()); err == nil {
		t.Fatalf("expected error from nil store")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close on nil store: %v", err)
	}
}

func TestStatusCacheWithSQLiteStore(t *testing.T) {
	store := openTestStatusStore(t)
	seedReferenceData(t, store.db)
	c := newTestStatusCache(store, nil)
	ctx := context.Background()

	snap, err := c.GetStatus(ctx, "")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	wantStatements := StatementCounts{Total: 100, Approved: 60, Unapproved: 30, Duplicate: 5, Blacklisted: 3, Wrong: 2}
	if diff := cmp.Diff(wantStatements, snap.Statements); diff != "" {
		t.Fatalf("statements mismatch (-want +got):\n%s", diff)
	}
	if snap.TotalUsers != 40 {
		t.Fatalf("total users = %d", snap.TotalUsers)
	}
	if len(snap.TopUsers) != topUsersLimit || snap.TopUsers[0] != (UserStatus{Name: "u1", Activities: 50}) || snap.TopUsers[1] != (UserStatus{Name: "u2", Activities: 20}) {
		t.Fatalf("unexpected top users: %+v", snap.TopUsers)
	}
	if snap.Dirty {
		t.Fatalf("expected clean snapshot")
	}

	insertStatements(t, store.db, "freebase", StateApproved, 1)
	snap, _ = c.GetStatus(ctx, "")
	if snap.Statements.Total != 100 {
		t.Fatalf("clean cache must not requery, total=%d", snap.Statements.Total)
	}
	c.MarkDirty()
	snap, err = c.GetStatus(ctx, "")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Statements.Total != 101 || snap.Statements.Approved != 61 {
		t.Fatalf("expected refreshed counts, got %+v", snap.Statements)
	}

	ds, err := c.GetStatus(ctx, "wikipedia")
	if err != nil {
		t.Fatalf("GetStatus(wikipedia): %v", err)
	}
	wantDataset := StatementCounts{Total: 30, Unapproved: 20, Duplicate: 5, Blacklisted: 3, Wrong: 2}
	if diff := cmp.Diff(wantDataset, ds.Statements); diff != "" {
		t.Fatalf("dataset statements mismatch (-want +got):\n%s", diff)
	}
}
