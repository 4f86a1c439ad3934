package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/fueltek/workorder-api/internal/database"
	"github.com/fueltek/workorder-api/internal/models"
	apperrors "github.com/fueltek/workorder-api/pkg/errors"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// LocalOrderRepository stores orders in the embedded SQLite cache.
// Same contract as the remote repository; it stays usable offline.
type LocalOrderRepository struct {
	db     *database.Local
	logger logger.Logger
}

// NewLocalOrderRepository creates a new LocalOrderRepository.
func NewLocalOrderRepository(db *database.Local, logger logger.Logger) *LocalOrderRepository {
	return &LocalOrderRepository{db: db, logger: logger}
}

// Put upserts an order under its number key.
func (r *LocalOrderRepository) Put(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (number, client_name, payload, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (number) DO UPDATE
		SET client_name = excluded.client_name,
		    payload     = excluded.payload,
		    saved_at    = excluded.saved_at
	`

	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	_, err = r.db.DB.ExecContext(ctx, query, order.Key(), order.Client, payload, order.SavedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		r.logger.Error("Failed to put order locally", "error", err, "number", order.Number)
		return fmt.Errorf("local put: %w", err)
	}
	return nil
}

// CreateIfAbsent writes the order only when its number is free.
func (r *LocalOrderRepository) CreateIfAbsent(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (number, client_name, payload, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (number) DO NOTHING
	`

	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	result, err := r.db.DB.ExecContext(ctx, query, order.Key(), order.Client, payload, order.SavedAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		r.logger.Error("Failed to create order locally", "error", err, "number", order.Number)
		return fmt.Errorf("local create: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("local create: %w", err)
	}
	if rows == 0 {
		return apperrors.NewConflictError(fmt.Sprintf("order number %d already taken", order.Number))
	}
	return nil
}

// Get retrieves an order by number.
func (r *LocalOrderRepository) Get(ctx context.Context, number int64) (*models.Order, error) {
	var payload []byte
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT payload FROM orders WHERE number = ?`, strconv.FormatInt(number, 10)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("order %d not found", number))
		}
		return nil, fmt.Errorf("local get: %w", err)
	}

	var order models.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, fmt.Errorf("decode order %d: %w", number, err)
	}
	return &order, nil
}

// GetAll retrieves every cached order.
func (r *LocalOrderRepository) GetAll(ctx context.Context) ([]*models.Order, error) {
	rows, err := r.db.DB.QueryContext(ctx, `SELECT payload FROM orders`)
	if err != nil {
		return nil, fmt.Errorf("local get all: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("local get all: %w", err)
		}
		var order models.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		orders = append(orders, &order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("local get all: %w", err)
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	return orders, nil
}

// Delete removes an order. Idempotent.
func (r *LocalOrderRepository) Delete(ctx context.Context, number int64) error {
	_, err := r.db.DB.ExecContext(ctx,
		`DELETE FROM orders WHERE number = ?`, strconv.FormatInt(number, 10))
	if err != nil {
		return fmt.Errorf("local delete: %w", err)
	}
	return nil
}

// DeleteAll wipes the cached orders.
func (r *LocalOrderRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.DB.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return fmt.Errorf("local delete all: %w", err)
	}
	return nil
}

// MaxNumber returns the largest cached number, 0 when empty.
func (r *LocalOrderRepository) MaxNumber(ctx context.Context) (int64, error) {
	var max int64
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(CAST(number AS INTEGER)), 0) FROM orders`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("local max number: %w", err)
	}
	return max, nil
}

// LocalCounterRepository stores the correlative in the SQLite cache.
type LocalCounterRepository struct {
	db     *database.Local
	logger logger.Logger
}

// NewLocalCounterRepository creates a new LocalCounterRepository.
func NewLocalCounterRepository(db *database.Local, logger logger.Logger) *LocalCounterRepository {
	return &LocalCounterRepository{db: db, logger: logger}
}

// Value reads the current correlative value.
func (r *LocalCounterRepository) Value(ctx context.Context) (int64, error) {
	var value int64
	err := r.db.DB.QueryRowContext(ctx, `SELECT value FROM correlative WHERE id = 1`).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("local counter read: %w", err)
	}
	return value, nil
}

// Raise lifts the correlative to at least n.
func (r *LocalCounterRepository) Raise(ctx context.Context, n int64) error {
	_, err := r.db.DB.ExecContext(ctx,
		`UPDATE correlative SET value = MAX(value, ?) WHERE id = 1`, n)
	if err != nil {
		return fmt.Errorf("local counter raise: %w", err)
	}
	return nil
}

// Reset sets the correlative unconditionally.
func (r *LocalCounterRepository) Reset(ctx context.Context, floor int64) error {
	_, err := r.db.DB.ExecContext(ctx, `UPDATE correlative SET value = ? WHERE id = 1`, floor)
	if err != nil {
		return fmt.Errorf("local counter reset: %w", err)
	}
	return nil
}
