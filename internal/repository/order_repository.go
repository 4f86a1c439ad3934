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

// OrderRepository stores orders in the remote PostgreSQL database.
// Driver-level failures are surfaced as ErrUnavailable so callers can
// route to the local fallback path.
type OrderRepository struct {
	db     *database.Postgres
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *database.Postgres, logger logger.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

type orderRow struct {
	Number  string `db:"number"`
	Payload []byte `db:"payload"`
}

func (r orderRow) decode() (*models.Order, error) {
	var order models.Order
	if err := json.Unmarshal(r.Payload, &order); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", r.Number, err)
	}
	return &order, nil
}

// Put upserts an order under its number key.
func (r *OrderRepository) Put(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (number, client_name, payload, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (number) DO UPDATE
		SET client_name = EXCLUDED.client_name,
		    payload     = EXCLUDED.payload,
		    saved_at    = EXCLUDED.saved_at
	`

	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	_, err = r.db.DB.ExecContext(ctx, query, order.Key(), order.Client, payload, order.SavedAt)
	if err != nil {
		r.logger.Error("Failed to put order", "error", err, "number", order.Number)
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}

// CreateIfAbsent writes the order only when its number is free. The
// key constraint breaks races between concurrent allocators.
func (r *OrderRepository) CreateIfAbsent(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (number, client_name, payload, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (number) DO NOTHING
	`

	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	result, err := r.db.DB.ExecContext(ctx, query, order.Key(), order.Client, payload, order.SavedAt)
	if err != nil {
		r.logger.Error("Failed to create order", "error", err, "number", order.Number)
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	if rows == 0 {
		return apperrors.NewConflictError(fmt.Sprintf("order number %d already taken", order.Number))
	}
	return nil
}

// Get retrieves an order by number.
func (r *OrderRepository) Get(ctx context.Context, number int64) (*models.Order, error) {
	query := `SELECT number, payload FROM orders WHERE number = $1`

	var row orderRow
	err := r.db.DB.GetContext(ctx, &row, query, strconv.FormatInt(number, 10))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("order %d not found", number))
		}
		r.logger.Error("Failed to get order", "error", err, "number", number)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return row.decode()
}

// GetAll retrieves every stored order. Ordering is left to callers.
func (r *OrderRepository) GetAll(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT number, payload FROM orders`

	var rows []orderRow
	if err := r.db.DB.SelectContext(ctx, &rows, query); err != nil {
		r.logger.Error("Failed to get all orders", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}

	orders := make([]*models.Order, 0, len(rows))
	for _, row := range rows {
		order, err := row.decode()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Delete removes an order. Idempotent.
func (r *OrderRepository) Delete(ctx context.Context, number int64) error {
	query := `DELETE FROM orders WHERE number = $1`

	if _, err := r.db.DB.ExecContext(ctx, query, strconv.FormatInt(number, 10)); err != nil {
		r.logger.Error("Failed to delete order", "error", err, "number", number)
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}

// DeleteAll wipes the orders table.
func (r *OrderRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.DB.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		r.logger.Error("Failed to delete all orders", "error", err)
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}

// MaxNumber returns the largest stored number, 0 when the table is
// empty. Reconciliation uses this as ground truth.
func (r *OrderRepository) MaxNumber(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(MAX(CAST(number AS BIGINT)), 0) FROM orders`

	var max int64
	if err := r.db.DB.GetContext(ctx, &max, query); err != nil {
		r.logger.Error("Failed to get max order number", "error", err)
		return 0, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return max, nil
}
