package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fueltek/workorder-api/internal/config"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// Postgres is the remote authoritative database connection.
type Postgres struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// NewPostgres opens the remote database connection.
func NewPostgres(cfg *config.Config, logger logger.Logger) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", cfg.DBConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to remote database", "host", cfg.DB.Host, "database", cfg.DB.Name)

	return &Postgres{DB: db, logger: logger}, nil
}

// Ping checks the database connection.
func (d *Postgres) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection.
func (d *Postgres) Close() error {
	return d.DB.Close()
}

// RunMigrations creates the schema and seeds the correlative row at
// the configured floor if it does not exist yet.
func (d *Postgres) RunMigrations(counterFloor int64) error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		number      TEXT PRIMARY KEY,
		client_name TEXT NOT NULL DEFAULT '',
		payload     JSONB NOT NULL,
		saved_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_orders_client_name ON orders(client_name);

	CREATE TABLE IF NOT EXISTS correlative (
		id    SMALLINT PRIMARY KEY CHECK (id = 1),
		value BIGINT NOT NULL
	);
	`

	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	seed := `INSERT INTO correlative (id, value) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`
	if _, err := d.DB.Exec(seed, counterFloor); err != nil {
		return fmt.Errorf("failed to seed correlative: %w", err)
	}

	d.logger.Info("Remote database migrations completed")
	return nil
}
