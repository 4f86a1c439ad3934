// Package repository provides keyed storage for work orders and the
// correlative counter, with remote (PostgreSQL), local (SQLite) and
// in-memory backings behind the same interfaces.
package repository

import (
	"context"

	"github.com/fueltek/workorder-api/internal/models"
)

// RecordStore is durable keyed storage for orders. Keys are the order
// number serialized as a string; both backings use the same key form.
type RecordStore interface {
	// Put upserts an order under its number.
	Put(ctx context.Context, order *models.Order) error
	// CreateIfAbsent writes the order only if no order exists under
	// that number, returning ErrConflict otherwise. This per-key
	// uniqueness is the race-breaker the allocator relies on.
	CreateIfAbsent(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, number int64) (*models.Order, error)
	GetAll(ctx context.Context) ([]*models.Order, error)
	// Delete removes an order. Deleting an absent key is not an error.
	Delete(ctx context.Context, number int64) error
	DeleteAll(ctx context.Context) error
	// MaxNumber returns the largest stored order number, 0 when empty.
	MaxNumber(ctx context.Context) (int64, error)
}

// CounterStore holds the correlative value for one backing. Only the
// allocator writes it.
type CounterStore interface {
	Value(ctx context.Context) (int64, error)
	// Raise lifts the counter to at least n. Never lowers it.
	Raise(ctx context.Context, n int64) error
	// Reset sets the counter unconditionally. Destructive, paired
	// with a record store wipe.
	Reset(ctx context.Context, floor int64) error
}

// JournalStore queues local writes pending replay against the remote
// store.
type JournalStore interface {
	Enqueue(ctx context.Context, entry *models.JournalEntry) error
	Pending(ctx context.Context, limit int) ([]*models.JournalEntry, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause string) error
	// Requeue returns a processing entry to pending after a transient
	// failure so a later pass picks it up again.
	Requeue(ctx context.Context, id int64, cause string) error
	PendingCount(ctx context.Context) (int, error)
}
