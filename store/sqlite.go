package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	terrors "totari/internal/errors"
	"totari/log"
)

const sqliteSchemaVersion = 1

// SQLite is a self-hosted document backend: one table of JSON bodies keyed
// by (collection, id). Watches poll at a fixed interval.
type SQLite struct {
	db           *sql.DB
	pollInterval time.Duration

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// OpenSQLite opens or creates the database file at path.
func OpenSQLite(path string, pollInterval time.Duration) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &SQLite{
		db:           db,
		pollInterval: pollInterval,
		entropy:      ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func migrateSQLite(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS docs (
		  collection TEXT NOT NULL,
		  id         TEXT NOT NULL,
		  body       TEXT NOT NULL,
		  rev        INTEGER NOT NULL DEFAULT 1,
		  PRIMARY KEY (collection, id)
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", sqliteSchemaVersion)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}
	return nil
}

func (s *SQLite) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// resolveTimestamps replaces ServerTimestamp sentinels with the current time.
func resolveTimestamps(v any, now int64) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = resolveTimestamps(val, now)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = resolveTimestamps(val, now)
		}
		return out
	}
	return v
}

func decodeBody(id, body string) (Doc, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return Doc{}, fmt.Errorf("decode %s: %w", id, err)
	}
	return Doc{ID: id, Data: data}, nil
}

func (s *SQLite) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	resolved := resolveTimestamps(data, time.Now().UnixMilli())
	body, err := json.Marshal(resolved)
	if err != nil {
		return "", err
	}
	id := s.newID()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO docs (collection, id, body) VALUES (?, ?, ?)",
		collection, id, string(body)); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLite) Get(ctx context.Context, collection, id string) (Doc, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM docs WHERE collection = ? AND id = ?", collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, terrors.NewNotFound(collection, id)
	}
	if err != nil {
		return Doc{}, err
	}
	return decodeBody(id, body)
}

func (s *SQLite) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	docs, _, err := s.query(ctx, collection, filters)
	return docs, err
}

// query also returns a fingerprint of the result set for change detection.
func (s *SQLite) query(ctx context.Context, collection string, filters []Filter) ([]Doc, string, error) {
	q := "SELECT id, body, rev FROM docs WHERE collection = ?"
	args := []any{collection}
	for _, f := range filters {
		q += " AND json_extract(body, ?) = ?"
		args = append(args, "$."+f.Field, f.Value)
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var docs []Doc
	var fp strings.Builder
	for rows.Next() {
		var id, body string
		var rev int64
		if err := rows.Scan(&id, &body, &rev); err != nil {
			return nil, "", err
		}
		d, err := decodeBody(id, body)
		if err != nil {
			return nil, "", err
		}
		docs = append(docs, d)
		fmt.Fprintf(&fp, "%s:%d;", id, rev)
	}
	return docs, fp.String(), rows.Err()
}

func (s *SQLite) Update(ctx context.Context, collection, id string, updates []FieldUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx,
		"SELECT body FROM docs WHERE collection = ? AND id = ?", collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return terrors.NewNotFound(collection, id)
	}
	if err != nil {
		return err
	}
	doc, err := decodeBody(id, body)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for _, u := range updates {
		setPath(doc.Data, u.Path, resolveTimestamps(u.Value, now))
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc.Data); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE docs SET body = ?, rev = rev + 1 WHERE collection = ? AND id = ?",
		strings.TrimSpace(buf.String()), collection, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM docs WHERE collection = ? AND id = ?", collection, id)
	return err
}

func (s *SQLite) Watch(ctx context.Context, collection string, filters []Filter, onChange func([]Doc)) (func(), error) {
	docs, fp, err := s.query(ctx, collection, filters)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		onChange(docs)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		last := fp
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			docs, fp, err := s.query(ctx, collection, filters)
			if err != nil {
				if ctx.Err() == nil {
					log.StoreError("watch", collection, err)
				}
				continue
			}
			if fp == last {
				continue
			}
			last = fp
			onChange(docs)
		}
	}()

	return cancel, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
