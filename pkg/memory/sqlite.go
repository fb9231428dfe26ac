// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jllopis/oracle/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteVectorStore keeps vectors in a SQLite file and searches them
// exhaustively. It suits the few thousand interactions of a single user.
type SQLiteVectorStore struct {
	db     *sql.DB
	ownsDB bool
}

// OpenSQLiteVectorStore opens or creates the index database at path.
func OpenSQLiteVectorStore(path string) (*SQLiteVectorStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "create index dir", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "open index", err).WithContext("path", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.CodeMemoryError, "configure index", err)
	}
	s, err := NewSQLiteVectorStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLiteVectorStore uses an already opened database.
func NewSQLiteVectorStore(db *sql.DB) (*SQLiteVectorStore, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS vectors (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		vector BLOB NOT NULL,
		payload TEXT NOT NULL,
		ts INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	)`)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "create index schema", err)
	}
	return &SQLiteVectorStore{db: db}, nil
}

// Close closes the database when the store opened it.
func (s *SQLiteVectorStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// CreateCollection implements VectorStore. Collections are implicit rows.
func (s *SQLiteVectorStore) CreateCollection(context.Context, string, uint64) error {
	return nil
}

// Upsert implements VectorStore.
func (s *SQLiteVectorStore) Upsert(ctx context.Context, collection string, points []Point) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.CodeMemoryError, "begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return errors.New(errors.CodeMemoryError, "encode payload", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO vectors (collection, id, vector, payload, ts) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload, ts = excluded.ts`,
			collection, p.ID, encodeVector(p.Vector), string(payload), p.Timestamp)
		if err != nil {
			return errors.New(errors.CodeMemoryError, "upsert point", err).WithContext("id", p.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.CodeMemoryError, "commit upsert", err)
	}
	return nil
}

// Search implements VectorStore.
func (s *SQLiteVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector, payload, ts FROM vectors WHERE collection = ?`, collection)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "query index", err)
	}
	defer rows.Close()
	var points []Point
	for rows.Next() {
		var (
			p       Point
			blob    []byte
			payload string
		)
		if err := rows.Scan(&p.ID, &blob, &payload, &p.Timestamp); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "scan index", err)
		}
		p.Vector = decodeVector(blob)
		if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "decode payload", err).WithContext("id", p.ID)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "query index", err)
	}
	return rank(func(yield func(Point)) {
		for _, p := range points {
			yield(p)
		}
	}, vector, limit, scoreThreshold), nil
}

// Delete implements VectorStore.
func (s *SQLiteVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	q := `DELETE FROM vectors WHERE collection = ? AND id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return errors.New(errors.CodeMemoryError, "delete points", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

var _ VectorStore = (*SQLiteVectorStore)(nil)
