// sqlstore.go: SQL storage provider (SQLite and PostgreSQL)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package sqlstore persists entries in a single upsert table:
//
//	xanthos_entries(key TEXT PRIMARY KEY, value BLOB/BYTEA, updated_at BIGINT)
//
// SQLite is served by the pure-Go modernc.org/sqlite driver, PostgreSQL by
// github.com/lib/pq. Both drivers are registered by this package.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agilira/xanthos/store"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and DDL.
type Dialect int

const (
	// SQLite uses ? placeholders and BLOB values.
	SQLite Dialect = iota
	// Postgres uses $n placeholders and BYTEA values.
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

const tableName = "xanthos_entries"

// Store implements store.Provider on a database/sql handle.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time

	getSQL, setSQL, delSQL string

	// Prefix reads come bounded ([prefix, successor)) and open-ended for
	// prefixes without a successor.
	scanSQL, scanOpenSQL, sizeSQL, sizeOpenSQL string
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlstore: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	return open(db, SQLite)
}

// OpenPostgres connects with a lib/pq DSN.
func OpenPostgres(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlstore: postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	return open(db, Postgres)
}

// New wraps an existing handle. The table is created if missing.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	return open(db, dialect)
}

func open(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	s.buildQueries()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", dialect, err)
	}
	if _, err := db.ExecContext(ctx, s.ddl()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: create table: %w", err)
	}
	return s, nil
}

func (s *Store) ddl() string {
	blob := "BLOB"
	if s.dialect == Postgres {
		blob = "BYTEA"
	}
	return `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		key TEXT PRIMARY KEY,
		value ` + blob + ` NOT NULL,
		updated_at BIGINT NOT NULL
	)`
}

func (s *Store) buildQueries() {
	p := func(n int) string {
		if s.dialect == Postgres {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}
	s.getSQL = `SELECT value FROM ` + tableName + ` WHERE key = ` + p(1)
	s.setSQL = `INSERT INTO ` + tableName + ` (key, value, updated_at) VALUES (` + p(1) + `, ` + p(2) + `, ` + p(3) + `)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	s.delSQL = `DELETE FROM ` + tableName + ` WHERE key = ` + p(1)
	// Prefix match via range so LIKE metacharacters in keys need no escaping.
	s.scanSQL = `SELECT key, value FROM ` + tableName + ` WHERE key >= ` + p(1) + ` AND key < ` + p(2) + ` ORDER BY key`
	s.scanOpenSQL = `SELECT key, value FROM ` + tableName + ` WHERE key >= ` + p(1) + ` ORDER BY key`
	s.sizeSQL = `SELECT key, length(value) FROM ` + tableName + ` WHERE key >= ` + p(1) + ` AND key < ` + p(2)
	s.sizeOpenSQL = `SELECT key, length(value) FROM ` + tableName + ` WHERE key >= ` + p(1)
}

// prefixQuery picks the bounded form of a prefix read when prefix has a
// successor.
func prefixQuery(bounded, open, prefix string) (string, []interface{}) {
	if end, ok := prefixEnd(prefix); ok {
		return bounded, []interface{}{prefix, end}
	}
	return open, []interface{}{prefix}
}

// prefixEnd returns the smallest string greater than every string starting
// with prefix, built by bumping the last rune that can be bumped. Invalid
// trailing bytes are dropped first; the result is always valid UTF-8.
func prefixEnd(prefix string) (string, bool) {
	for prefix != "" {
		r, size := utf8.DecodeLastRuneInString(prefix)
		prefix = prefix[:len(prefix)-size]
		if r == utf8.RuneError && size == 1 {
			continue
		}
		if r < utf8.MaxRune {
			next := r + 1
			if next >= 0xD800 && next <= 0xDFFF {
				next = 0xE000
			}
			return prefix + string(next), true
		}
	}
	return "", false
}

// Get returns the stored value for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.getSQL, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.mapErr("get", err)
	}
	return value, true, nil
}

// Set upserts key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return store.NewErrInvalidKey(s.dialect.String(), key, "empty key")
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, s.setSQL, key, value, s.now().UnixMilli()); err != nil {
		return s.mapErr("set", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.delSQL, key); err != nil {
		return s.mapErr("delete", err)
	}
	return nil
}

// Scan visits keys under prefix in key order. Rows are buffered before fn
// runs so that fn may write to the store.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	type row struct {
		key   string
		value []byte
	}
	var rows []row

	query, args := prefixQuery(s.scanSQL, s.scanOpenSQL, prefix)
	rs, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return s.mapErr("scan", err)
	}
	for rs.Next() {
		var r row
		if err := rs.Scan(&r.key, &r.value); err != nil {
			_ = rs.Close()
			return s.mapErr("scan", err)
		}
		if !strings.HasPrefix(r.key, prefix) {
			continue
		}
		rows = append(rows, r)
	}
	if err := rs.Err(); err != nil {
		_ = rs.Close()
		return s.mapErr("scan", err)
	}
	_ = rs.Close()

	for _, r := range rows {
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

// Size sums key and value lengths under prefix without transferring values.
func (s *Store) Size(ctx context.Context, prefix string) (int64, int, error) {
	query, args := prefixQuery(s.sizeSQL, s.sizeOpenSQL, prefix)
	rs, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, 0, s.mapErr("size", err)
	}
	defer rs.Close()

	var total int64
	count := 0
	for rs.Next() {
		var key string
		var n int64
		if err := rs.Scan(&key, &n); err != nil {
			return 0, 0, s.mapErr("size", err)
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		total += int64(len(key)) + n
		count++
	}
	if err := rs.Err(); err != nil {
		return 0, 0, s.mapErr("size", err)
	}
	return total, count, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// mapErr turns "disk full" class failures into storage-full errors so the
// durable tier can clean up and retry.
func (s *Store) mapErr(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database or disk is full") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "53100") {
		return store.NewErrStorageFull(s.dialect.String(), err)
	}
	if strings.Contains(msg, "sql: database is closed") {
		return store.NewErrClosed(s.dialect.String())
	}
	return fmt.Errorf("sqlstore: %s %s: %w", s.dialect, op, err)
}

var (
	_ store.Provider = (*Store)(nil)
	_ store.Sizer    = (*Store)(nil)
)
