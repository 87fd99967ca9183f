// Package sqlite persists settings in a SQLite key-value table.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/osa030/musicisland/internal/app/settings"
)

const (
	appName    = "musicisland"
	dbFileName = "settings.db"

	keyEnabled = "island_enabled"
	keyWave    = "wave_style"
)

// DefaultPath returns the database path under the XDG data directory.
func DefaultPath() (string, error) {
	path, err := xdg.DataFile(filepath.Join(appName, dbFileName))
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve data file")
	}
	return path, nil
}

// Repository implements settings.Repository.
type Repository struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
// An empty path uses DefaultPath.
func Open(path string) (*Repository, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for %s", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return errors.Wrap(err, "failed to create settings table")
	}
	return nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Load returns the stored settings. Missing or unparsable keys use defaults.
func (r *Repository) Load(ctx context.Context) (settings.Settings, error) {
	result := settings.Default()

	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return result, errors.Wrap(err, "failed to query settings")
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return result, errors.Wrap(err, "failed to scan setting")
		}
		switch key {
		case keyEnabled:
			if b, err := strconv.ParseBool(value); err == nil {
				result.Enabled = b
			}
		case keyWave:
			result.Wave = settings.ParseWave(value)
		}
	}
	if err := rows.Err(); err != nil {
		return result, errors.Wrap(err, "failed to read settings")
	}
	return result, nil
}

// SaveEnabled upserts the feature toggle.
func (r *Repository) SaveEnabled(ctx context.Context, enabled bool) error {
	return r.upsert(ctx, keyEnabled, strconv.FormatBool(enabled))
}

// SaveWave upserts the wave variant.
func (r *Repository) SaveWave(ctx context.Context, wave settings.WaveVariant) error {
	return r.upsert(ctx, keyWave, wave.String())
}

func (r *Repository) upsert(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return errors.Wrapf(err, "failed to save %s", key)
	}
	return nil
}
