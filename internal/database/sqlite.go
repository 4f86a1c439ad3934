package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // embedded SQLite driver

	"github.com/fueltek/workorder-api/pkg/logger"
)

// Local is the on-device cache database, an embedded SQLite file. It
// keeps working when the remote store is unreachable.
type Local struct {
	DB     *sql.DB
	logger logger.Logger
}

// NewLocal opens (or creates) the local cache database.
func NewLocal(path string, logger logger.Logger) (*Local, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	// WAL gives one writer plus concurrent readers; some drivers do
	// not parse the connection string pragmas, so set them explicitly.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=10000"); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	logger.Info("Opened local database", "path", path)

	return &Local{DB: db, logger: logger}, nil
}

// Ping checks the database connection.
func (d *Local) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection.
func (d *Local) Close() error {
	return d.DB.Close()
}

// RunMigrations creates the local schema and seeds the correlative row
// at the configured floor if it does not exist yet.
func (d *Local) RunMigrations(counterFloor int64) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			number      TEXT PRIMARY KEY,
			client_name TEXT NOT NULL DEFAULT '',
			payload     TEXT NOT NULL,
			saved_at    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS correlative (
			id    INTEGER PRIMARY KEY CHECK (id = 1),
			value INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_journal (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			op           TEXT NOT NULL,
			number       INTEGER NOT NULL,
			payload      TEXT,
			created_at   TEXT NOT NULL,
			processed_at TEXT,
			attempts     INTEGER NOT NULL DEFAULT 0,
			last_error   TEXT,
			status       TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_journal_status ON sync_journal(status)`,
	}

	for _, stmt := range statements {
		if _, err := d.DB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run local migrations: %w", err)
		}
	}

	seed := `INSERT OR IGNORE INTO correlative (id, value) VALUES (1, ?)`
	if _, err := d.DB.Exec(seed, counterFloor); err != nil {
		return fmt.Errorf("failed to seed correlative: %w", err)
	}

	d.logger.Info("Local database migrations completed")
	return nil
}
