package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// StatusStore opens transactions for the aggregate queries behind a status
// snapshot.
type StatusStore interface {
	BeginStatusTx(ctx context.Context) (StatusTx, error)
}

// StatusTx runs the aggregate queries of one refresh attempt. Commit or
// Rollback must be called exactly once.
type StatusTx interface {
	CountStatements(ctx context.Context, state ApprovalState, dataset string) (int64, error)
	CountUsers(ctx context.Context) (int64, error)
	TopUsers(ctx context.Context, limit int) ([]UserStatus, error)
	Commit() error
	Rollback() error
}

type sqliteStatusStore struct {
	db *sql.DB
}

func openStatusStore(path string) (*sqliteStatusStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	// A busy timeout lets the driver absorb short lock contention before it
	// surfaces SQLITE_BUSY to the retry loop.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createStatusSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStatusStore{db: db}, nil
}

func createStatusSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS statements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject TEXT NOT NULL,
			property TEXT NOT NULL,
			object TEXT NOT NULL,
			state INTEGER NOT NULL DEFAULT 0,
			dataset TEXT NOT NULL DEFAULT '',
			upload INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS statements_dataset_state_idx ON statements (dataset, state)`,
		`CREATE TABLE IF NOT EXISTS userlog (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_name TEXT NOT NULL,
			stmt INTEGER NOT NULL,
			state INTEGER NOT NULL,
			changed TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS userlog_user_idx ON userlog (user_name)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create status schema: %w", err)
		}
	}
	return nil
}

func (s *sqliteStatusStore) BeginStatusTx(ctx context.Context) (StatusTx, error) {
	if s == nil || s.db == nil {
		return nil, sql.ErrConnDone
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteStatusTx{tx: tx}, nil
}

func (s *sqliteStatusStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteStatusTx struct {
	tx *sql.Tx
}

func (t *sqliteStatusTx) CountStatements(ctx context.Context, state ApprovalState, dataset string) (int64, error) {
	var (
		where []string
		args  []any
	)
	if state != StateAny {
		where = append(where, "state = ?")
		args = append(args, int(state))
	}
	if dataset != "" {
		where = append(where, "dataset = ?")
		args = append(args, dataset)
	}
	query := "SELECT COUNT(*) FROM statements"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var count int64
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s statements: %w", state, err)
	}
	return count, nil
}

func (t *sqliteStatusTx) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := t.tx.QueryRowContext(ctx, "SELECT COUNT(DISTINCT user_name) FROM userlog").Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (t *sqliteStatusTx) TopUsers(ctx context.Context, limit int) ([]UserStatus, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT user_name, COUNT(*) AS activities
		FROM userlog
		GROUP BY user_name
		ORDER BY activities DESC, user_name ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	defer rows.Close()

	users := make([]UserStatus, 0, limit)
	for rows.Next() {
		var u UserStatus
		if err := rows.Scan(&u.Name, &u.Activities); err != nil {
			return nil, fmt.Errorf("top users: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	return users, nil
}

func (t *sqliteStatusTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteStatusTx) Rollback() error {
	return t.tx.Rollback()
}
