// Package sqlitemigrate upgrades a SQLite schema from embedded SQL files.
//
// Each file is named "<version>_<description>.sql" with a positive integer
// version. The schema version is kept in the database header through
// PRAGMA user_version, so no bookkeeping table is needed.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// ErrNewerSchema is returned when the database was written by a newer
// schema than the migrations know about.
var ErrNewerSchema = errors.New("sqlitemigrate: database schema is newer than migrations")

type migration struct {
	version int
	name    string
}

// Migrate applies every migration in migrations newer than the database's
// schema version and returns the resulting version. Each migration runs in
// its own transaction together with the version bump.
func Migrate(ctx context.Context, db *sql.DB, migrations fs.FS) (int, error) {
	if db == nil {
		return 0, errors.New("sqlitemigrate: db is required")
	}
	pending, err := list(migrations)
	if err != nil {
		return 0, err
	}

	current, err := Version(ctx, db)
	if err != nil {
		return 0, err
	}
	if n := len(pending); n > 0 && current > pending[n-1].version {
		return current, fmt.Errorf("%w: have %d, know %d", ErrNewerSchema, current, pending[n-1].version)
	}

	for _, m := range pending {
		if m.version <= current {
			continue
		}
		body, err := fs.ReadFile(migrations, m.name)
		if err != nil {
			return current, fmt.Errorf("read %s: %w", m.name, err)
		}
		if err := apply(ctx, db, m.version, string(body)); err != nil {
			return current, fmt.Errorf("apply %s: %w", m.name, err)
		}
		current = m.version
	}
	return current, nil
}

// Version reports the schema version recorded in the database.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func apply(ctx context.Context, db *sql.DB, version int, stmts string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, stmts); err != nil {
		return err
	}
	// PRAGMA arguments cannot be bound.
	if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(version)); err != nil {
		return err
	}
	return tx.Commit()
}

// list returns the migrations at the root of fsys ordered by version.
func list(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	seen := make(map[int]string, len(names))
	out := make([]migration, 0, len(names))
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v <= 0 {
			return nil, fmt.Errorf("sqlitemigrate: %q does not start with a version", name)
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("sqlitemigrate: %q and %q share version %d", prev, name, v)
		}
		seen[v] = name
		out = append(out, migration{version: v, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
