package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migration is one versioned schema step parsed from NNNN_name.sql.
type migration struct {
	version int
	name    string
	up      string
}

// loadMigrations reads every .sql file under root, ordered by version.
func loadMigrations(fsys fs.FS, root string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir: %w", err)
	}

	var out []migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must be NNNN_description.sql", e.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version %q", e.Name(), prefix)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %s: version %d already used by %s", e.Name(), version, prev)
		}
		seen[version] = e.Name()

		content, err := fs.ReadFile(fsys, path.Join(root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: version, name: e.Name(), up: upSection(string(content))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
// Files without markers are treated as entirely Up.
func upSection(content string) string {
	const upMark, downMark = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, upMark); i >= 0 {
		content = content[i+len(upMark):]
	}
	if i := strings.Index(content, downMark); i >= 0 {
		content = content[:i]
	}
	return content
}

// applyMigrations runs every migration newer than the recorded schema
// version, each in its own transaction together with its version row.
func applyMigrations(db *sql.DB, migrations []migration, now time.Time) (applied int, err error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
		    version    INTEGER PRIMARY KEY,
		    name       TEXT    NOT NULL,
		    applied_at INTEGER NOT NULL
		)`); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return 0, err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return applied, fmt.Errorf("beginning migration %s: %w", m.name, err)
		}
		if strings.TrimSpace(m.up) != "" {
			if _, err := tx.Exec(m.up); err != nil {
				_ = tx.Rollback()
				return applied, fmt.Errorf("applying migration %s: %w", m.name, err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, toMillis(now),
		); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("recording migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("committing migration %s: %w", m.name, err)
		}
		applied++
	}
	return applied, nil
}

func schemaVersion(q querier) (int, error) {
	var v int
	if err := q.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}
