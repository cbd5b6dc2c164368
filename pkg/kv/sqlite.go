package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite is a Store implementation backed by a single SQLite database
// file. It needs no external services or native libraries, which makes
// it the default backend for CLI workflows.
type SQLite struct {
	db   *sql.DB
	opts *Options
}

// SQLiteOptions configures the SQLite store.
type SQLiteOptions struct {
	// Options is the common kv options (separator, etc.).
	Options *Options

	// Path is the database file. Required; parent directories are
	// created as needed.
	Path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL
);
`

// NewSQLite creates a new SQLite-backed Store.
func NewSQLite(sopts SQLiteOptions) (*SQLite, error) {
	if sopts.Path == "" {
		return nil, errors.New("kv: SQLiteOptions.Path is required")
	}
	if err := os.MkdirAll(filepath.Dir(sopts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("kv: create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", sopts.Path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: initialize schema: %w", err)
	}
	return &SQLite{db: db, opts: sopts.Options}, nil
}

func (s *SQLite) Get(ctx context.Context, key Key) ([]byte, error) {
	k := string(s.opts.encode(key))
	var val []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, k).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *SQLite) Set(ctx context.Context, key Key, value []byte) error {
	k := string(s.opts.encode(key))
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO kv (k, v) VALUES (?, ?)`, k, value)
	return err
}

func (s *SQLite) Delete(ctx context.Context, key Key) error {
	k := string(s.opts.encode(key))
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, k)
	return err
}

func (s *SQLite) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := s.opts.encode(prefix)
	// Append separator so "a:b" prefix doesn't match "a:bc".
	if len(p) > 0 {
		p = append(p, s.opts.sep())
	}

	return func(yield func(Entry, error) bool) {
		var rows *sql.Rows
		var err error
		if len(p) == 0 {
			rows, err = s.db.QueryContext(ctx, `SELECT k, v FROM kv ORDER BY k`)
		} else if hi := nextPrefix(p); hi != nil {
			rows, err = s.db.QueryContext(ctx,
				`SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k`, string(p), string(hi))
		} else {
			rows, err = s.db.QueryContext(ctx,
				`SELECT k, v FROM kv WHERE k >= ? ORDER BY k`, string(p))
		}
		if err != nil {
			yield(Entry{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var k string
			var v []byte
			if err := rows.Scan(&k, &v); err != nil {
				if !yield(Entry{}, err) {
					return
				}
				continue
			}
			entry := Entry{
				Key:   s.opts.decode([]byte(k)),
				Value: v,
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Entry{}, err)
		}
	}
}

func (s *SQLite) BatchSet(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range entries {
		k := string(s.opts.encode(e.Key))
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO kv (k, v) VALUES (?, ?)`, k, e.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) BatchDelete(ctx context.Context, keys []Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, key := range keys {
		k := string(s.opts.encode(key))
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// nextPrefix returns the smallest key greater than every key starting
// with p, or nil when no such bound exists (p is all 0xff).
func nextPrefix(p []byte) []byte {
	hi := append([]byte(nil), p...)
	for i := len(hi) - 1; i >= 0; i-- {
		if hi[i] < 0xff {
			hi[i]++
			return hi[:i+1]
		}
	}
	return nil
}
