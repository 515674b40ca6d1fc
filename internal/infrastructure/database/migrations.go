package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"time"
)

// migrationFile matches YYYYMMDD_HHMMSS_name.up.sql and .down.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([A-Za-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one versioned schema change.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationStatus pairs a migration with when it was applied.
type MigrationStatus struct {
	Migration
	Applied   bool
	AppliedAt time.Time
}

// LoadMigrations reads migration files from the root of fsys, oldest
// first. Files that do not follow the naming scheme are ignored; a down
// file without an up file is an error.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		m := migrationFile.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		version, name, direction := m[1], m[2], m[3]

		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: name}
			byVersion[version] = mig
		}
		if direction == "up" {
			mig.UpSQL = string(body)
		} else {
			mig.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("migration %s_%s has no up file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies every migration in fsys not yet recorded in
// schema_migrations, each in its own transaction, and returns how many
// were applied. A failure leaves earlier migrations committed.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	status, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, s := range status {
		if s.Applied {
			continue
		}
		m := s.Migration
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return fmt.Errorf("executing SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339),
			)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
		applied++
	}
	return applied, nil
}

// Rollback reverts the most recently applied migration and returns its
// version, or "" when nothing is applied.
func (db *DB) Rollback(ctx context.Context, fsys fs.FS) (string, error) {
	status, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return "", err
	}

	var latest *Migration
	for i := len(status) - 1; i >= 0; i-- {
		if status[i].Applied {
			latest = &status[i].Migration
			break
		}
	}
	if latest == nil {
		return "", nil
	}
	if latest.DownSQL == "" {
		return "", fmt.Errorf("migration %s has no down SQL", latest.Version)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, latest.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest.Version)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("rolling back %s: %w", latest.Version, err)
	}
	return latest.Version, nil
}

// MigrationStatus lists the migrations in fsys with their applied state.
// Applied versions missing from fsys are reported as an error.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) ([]MigrationStatus, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		at, ok := applied[m.Version]
		out = append(out, MigrationStatus{Migration: m, Applied: ok, AppliedAt: at})
		delete(applied, m.Version)
	}
	if len(applied) > 0 {
		missing := make([]string, 0, len(applied))
		for version := range applied {
			missing = append(missing, version)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("applied migrations missing from migration files: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]time.Time, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var version, appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing applied_at for %s: %w", version, err)
		}
		out[version] = t
	}
	return out, rows.Err()
}
