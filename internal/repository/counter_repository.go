package repository

import (
	"context"
	"fmt"

	"github.com/fueltek/workorder-api/internal/database"
	apperrors "github.com/fueltek/workorder-api/pkg/errors"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// CounterRepository stores the correlative value in the remote
// database. Raise is a single GREATEST update, so concurrent raises
// commute and the value never goes backwards.
type CounterRepository struct {
	db     *database.Postgres
	logger logger.Logger
}

// NewCounterRepository creates a new CounterRepository.
func NewCounterRepository(db *database.Postgres, logger logger.Logger) *CounterRepository {
	return &CounterRepository{db: db, logger: logger}
}

// Value reads the current correlative value.
func (r *CounterRepository) Value(ctx context.Context) (int64, error) {
	var value int64
	err := r.db.DB.GetContext(ctx, &value, `SELECT value FROM correlative WHERE id = 1`)
	if err != nil {
		r.logger.Error("Failed to read correlative", "error", err)
		return 0, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return value, nil
}

// Raise lifts the correlative to at least n.
func (r *CounterRepository) Raise(ctx context.Context, n int64) error {
	query := `UPDATE correlative SET value = GREATEST(value, $1) WHERE id = 1`

	if _, err := r.db.DB.ExecContext(ctx, query, n); err != nil {
		r.logger.Error("Failed to raise correlative", "error", err, "value", n)
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}

// Reset sets the correlative unconditionally.
func (r *CounterRepository) Reset(ctx context.Context, floor int64) error {
	if _, err := r.db.DB.ExecContext(ctx, `UPDATE correlative SET value = $1 WHERE id = 1`, floor); err != nil {
		r.logger.Error("Failed to reset correlative", "error", err, "floor", floor)
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}
