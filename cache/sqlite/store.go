// Package sqlite provides a SQLite-backed cache.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/meigma/gateway/cache"
	"github.com/meigma/gateway/cache/sqlite/migrations"
	"github.com/meigma/gateway/internal/sqlitemigrate"
)

// Store persists partitions in a single SQLite database.
type Store struct {
	sqlDB *sql.DB
}

// Interface compliance.
var _ cache.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Migrate(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Open implements cache.Store.
func (s *Store) Open(ctx context.Context, partition string) error {
	if err := cache.ValidatePartition(partition); err != nil {
		return err
	}
	return ensurePartition(ctx, s.sqlDB, partition)
}

// Match implements cache.Store.
func (s *Store) Match(ctx context.Context, partition string, id cache.Identity) (cache.Snapshot, bool, error) {
	var row *sql.Row
	if partition == cache.AnyPartition {
		row = s.sqlDB.QueryRowContext(ctx,
			`SELECT e.status, e.header, e.body, e.stored_at
			   FROM entries e
			   JOIN partitions p ON p.name = e.partition_name
			  WHERE e.entry_key = ?
			  ORDER BY p.seq
			  LIMIT 1`,
			id.Key(),
		)
	} else {
		row = s.sqlDB.QueryRowContext(ctx,
			`SELECT status, header, body, stored_at
			   FROM entries
			  WHERE partition_name = ? AND entry_key = ?`,
			partition, id.Key(),
		)
	}

	var (
		status   int
		header   string
		body     []byte
		storedAt int64
	)
	if err := row.Scan(&status, &header, &body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cache.Snapshot{}, false, nil
		}
		return cache.Snapshot{}, false, fmt.Errorf("match %s: %w", id, err)
	}
	h := make(http.Header)
	if err := json.Unmarshal([]byte(header), &h); err != nil {
		return cache.Snapshot{}, false, fmt.Errorf("decode header for %s: %w", id, err)
	}
	return cache.Snapshot{
		Status:   status,
		Header:   h,
		Body:     body,
		StoredAt: time.Unix(0, storedAt).UTC(),
	}, true, nil
}

// Put implements cache.Store.
func (s *Store) Put(ctx context.Context, partition string, id cache.Identity, snap cache.Snapshot) error {
	if err := cache.CheckPut(partition, id, snap); err != nil {
		return err
	}
	header := snap.Header
	if header == nil {
		header = http.Header{}
	}
	encoded, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	body := snap.Body
	if body == nil {
		body = []byte{}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	if err := ensurePartition(ctx, tx, partition); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (partition_name, entry_key, method, url, status, header, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (partition_name, entry_key) DO UPDATE SET
		   status = excluded.status,
		   header = excluded.header,
		   body = excluded.body,
		   stored_at = excluded.stored_at`,
		partition, id.Key(), id.Method, id.URL, snap.Status, string(encoded), body, storedAt.UnixNano(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("put %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

// Identities implements cache.Store.
func (s *Store) Identities(ctx context.Context, partition string) ([]cache.Identity, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT method, url FROM entries WHERE partition_name = ? ORDER BY entry_key`,
		partition,
	)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	ids := make([]cache.Identity, 0)
	for rows.Next() {
		var id cache.Identity
		if err := rows.Scan(&id.Method, &id.URL); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Partitions implements cache.Store.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM partitions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeletePartition implements cache.Store.
func (s *Store) DeletePartition(ctx context.Context, name string) (bool, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE partition_name = ?`, name); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE name = ?`, name)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete partition %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensurePartition(ctx context.Context, db execer, partition string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)`,
		partition, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("open partition %s: %w", partition, err)
	}
	return nil
}
