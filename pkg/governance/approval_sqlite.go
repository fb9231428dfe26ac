// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
	_ "modernc.org/sqlite"
)

const approvalTable = "approvals"

const approvalColumns = "id, directive, args_json, status, reason, created_at, updated_at, expires_at"

// SQLiteApprovalStore persists approvals in a SQLite database.
type SQLiteApprovalStore struct {
	db     *sql.DB
	opts   storeOptions
	ownsDB bool
}

// OpenSQLiteApprovalStore opens (or creates) the approvals database at path.
func OpenSQLiteApprovalStore(path string, opts ...StoreOption) (*SQLiteApprovalStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.New(errors.CodeInternal, "create approvals dir", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "open approvals db", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.CodeInternal, "configure approvals db", err)
	}
	store, err := NewSQLiteApprovalStore(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewSQLiteApprovalStore creates a SQLite-backed approval store and ensures schema.
func NewSQLiteApprovalStore(db *sql.DB, opts ...StoreOption) (*SQLiteApprovalStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureApprovalSchema(db); err != nil {
		return nil, err
	}
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &SQLiteApprovalStore{db: db, opts: o}, nil
}

// Close releases the database when the store opened it.
func (s *SQLiteApprovalStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Create inserts an approval.
func (s *SQLiteApprovalStore) Create(ctx context.Context, approval Approval) (*Approval, error) {
	if err := s.opts.prepare(&approval); err != nil {
		return nil, err
	}
	args, err := json.Marshal(approval.Args)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", approvalTable, approvalColumns),
		approval.ID, approval.Directive, string(args), string(approval.Status), approval.Reason,
		approval.CreatedAt.UnixMilli(), approval.UpdatedAt.UnixMilli(), unixMilli(approval.ExpiresAt))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "insert approval", err).WithContext("approval_id", approval.ID)
	}
	return s.Get(ctx, approval.ID)
}

// Get returns an approval by id.
func (s *SQLiteApprovalStore) Get(ctx context.Context, id string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", approvalColumns, approvalTable), id)
	approval, err := scanApproval(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, approvalNotFound(id)
		}
		return nil, err
	}
	return approval, nil
}

// List returns approvals matching the filter, most recent first.
func (s *SQLiteApprovalStore) List(ctx context.Context, filter ApprovalFilter) ([]*Approval, error) {
	where := "1=1"
	args := make([]any, 0)
	if filter.Directive != "" {
		where += " AND directive = ?"
		args = append(args, filter.Directive)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.ExpiringBefore.IsZero() {
		where += " AND expires_at > 0 AND expires_at <= ?"
		args = append(args, filter.ExpiringBefore.UnixMilli())
	}
	limit := ""
	if filter.Limit > 0 {
		limit = fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY updated_at DESC%s", approvalColumns, approvalTable, where, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Approval, 0)
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, approval)
	}
	return out, rows.Err()
}

// Resolve moves a pending, unexpired approval to approved or rejected. The
// status guard lives in the UPDATE so two racing confirmations commit once.
func (s *SQLiteApprovalStore) Resolve(ctx context.Context, id string, status ApprovalStatus, reason string) (*Approval, error) {
	if err := validResolution(status); err != nil {
		return nil, err
	}
	now := s.opts.now().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET status = ?, reason = ?, updated_at = ? WHERE id = ? AND status = ? AND (expires_at = 0 OR expires_at > ?)", approvalTable),
		string(status), reason, now, id, string(ApprovalStatusPending), now)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 1 {
		return s.Get(ctx, id)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == ApprovalStatusPending {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET status = ?, reason = ?, updated_at = ? WHERE id = ? AND status = ?", approvalTable),
			string(ApprovalStatusExpired), "approval expired", now, id, string(ApprovalStatusPending))
		if err != nil {
			return nil, err
		}
		current.Status = ApprovalStatusExpired
	}
	return nil, approvalNotPending(current)
}

// ExpireApprovals marks every pending approval past its TTL as expired.
func (s *SQLiteApprovalStore) ExpireApprovals(ctx context.Context) (int, error) {
	now := s.opts.now().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET status = ?, reason = ?, updated_at = ? WHERE status = ? AND expires_at > 0 AND expires_at <= ?", approvalTable),
		string(ApprovalStatusExpired), "approval expired", now, string(ApprovalStatusPending), now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*Approval, error) {
	var (
		approval    Approval
		argsJSON    string
		status      string
		createdAtMs int64
		updatedAtMs int64
		expiresAtMs int64
	)
	if err := row.Scan(&approval.ID, &approval.Directive, &argsJSON, &status, &approval.Reason, &createdAtMs, &updatedAtMs, &expiresAtMs); err != nil {
		return nil, err
	}
	approval.Status = ApprovalStatus(status)
	approval.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	approval.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()
	if expiresAtMs > 0 {
		approval.ExpiresAt = time.UnixMilli(expiresAtMs).UTC()
	}
	approval.Args = []string{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &approval.Args); err != nil {
			return nil, errors.New(errors.CodeInternal, "decode approval args", err).WithContext("approval_id", approval.ID)
		}
	}
	return &approval, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func ensureApprovalSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			directive TEXT NOT NULL,
			args_json TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`, approvalTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status)", approvalTable, approvalTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s (expires_at)", approvalTable, approvalTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

var _ ApprovalStore = (*SQLiteApprovalStore)(nil)
