package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/fueltek/workorder-api/internal/models"
	apperrors "github.com/fueltek/workorder-api/pkg/errors"
)

// MemoryOrderRepository is a map-backed RecordStore used by unit tests
// and as a scratch backend. FailWith injects a store-wide error so
// tests can simulate an unreachable backing.
type MemoryOrderRepository struct {
	mu    sync.RWMutex
	items map[int64]models.Order
	err   error
}

// NewMemoryOrderRepository creates an empty in-memory store.
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{items: make(map[int64]models.Order)}
}

// FailWith makes every subsequent call return err. Pass nil to heal.
func (r *MemoryOrderRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Put upserts an order.
func (r *MemoryOrderRepository) Put(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items[order.Number] = *order
	return nil
}

// CreateIfAbsent writes the order only when its number is free.
func (r *MemoryOrderRepository) CreateIfAbsent(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, exists := r.items[order.Number]; exists {
		return apperrors.NewConflictError(fmt.Sprintf("order number %d already taken", order.Number))
	}
	r.items[order.Number] = *order
	return nil
}

// Get retrieves an order by number.
func (r *MemoryOrderRepository) Get(ctx context.Context, number int64) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}
	order, ok := r.items[number]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("order %d not found", number))
	}
	return &order, nil
}

// GetAll retrieves every stored order.
func (r *MemoryOrderRepository) GetAll(ctx context.Context) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}
	orders := make([]*models.Order, 0, len(r.items))
	for _, order := range r.items {
		o := order
		orders = append(orders, &o)
	}
	return orders, nil
}

// Delete removes an order. Idempotent.
func (r *MemoryOrderRepository) Delete(ctx context.Context, number int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	delete(r.items, number)
	return nil
}

// DeleteAll wipes the store.
func (r *MemoryOrderRepository) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items = make(map[int64]models.Order)
	return nil
}

// MaxNumber returns the largest stored number, 0 when empty.
func (r *MemoryOrderRepository) MaxNumber(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return 0, r.err
	}
	var max int64
	for number := range r.items {
		if number > max {
			max = number
		}
	}
	return max, nil
}

// MemoryCounterRepository is a guarded int64 CounterStore for tests.
type MemoryCounterRepository struct {
	mu    sync.Mutex
	value int64
	err   error
}

// NewMemoryCounterRepository creates a counter at the given floor.
func NewMemoryCounterRepository(floor int64) *MemoryCounterRepository {
	return &MemoryCounterRepository{value: floor}
}

// FailWith makes every subsequent call return err. Pass nil to heal.
func (r *MemoryCounterRepository) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Value reads the current value.
func (r *MemoryCounterRepository) Value(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	return r.value, nil
}

// Raise lifts the value to at least n.
func (r *MemoryCounterRepository) Raise(ctx context.Context, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if n > r.value {
		r.value = n
	}
	return nil
}

// Reset sets the value unconditionally.
func (r *MemoryCounterRepository) Reset(ctx context.Context, floor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.value = floor
	return nil
}

// MemoryJournalRepository is an in-memory JournalStore for tests.
type MemoryJournalRepository struct {
	mu      sync.Mutex
	entries []*models.JournalEntry
	nextID  int64
}

// NewMemoryJournalRepository creates an empty journal.
func NewMemoryJournalRepository() *MemoryJournalRepository {
	return &MemoryJournalRepository{nextID: 1}
}

// Enqueue appends a pending entry.
func (r *MemoryJournalRepository) Enqueue(ctx context.Context, entry *models.JournalEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = r.nextID
	r.nextID++
	entry.Status = models.JournalPending
	copied := *entry
	r.entries = append(r.entries, &copied)
	return nil
}

// Pending returns up to limit pending entries, oldest first.
func (r *MemoryJournalRepository) Pending(ctx context.Context, limit int) ([]*models.JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.JournalEntry
	for _, e := range r.entries {
		if e.Status != models.JournalPending {
			continue
		}
		copied := *e
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryJournalRepository) setStatus(id int64, status models.JournalStatus, cause string, bumpAttempts bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID != id {
			continue
		}
		e.Status = status
		if cause != "" {
			c := cause
			e.LastError = &c
		}
		if bumpAttempts {
			e.Attempts++
		}
		return nil
	}
	return apperrors.NewNotFoundError(fmt.Sprintf("journal entry %d not found", id))
}

// MarkProcessing claims an entry and bumps its attempt count.
func (r *MemoryJournalRepository) MarkProcessing(ctx context.Context, id int64) error {
	return r.setStatus(id, models.JournalProcessing, "", true)
}

// MarkDone finishes an entry.
func (r *MemoryJournalRepository) MarkDone(ctx context.Context, id int64) error {
	return r.setStatus(id, models.JournalDone, "", false)
}

// MarkFailed retires an entry permanently.
func (r *MemoryJournalRepository) MarkFailed(ctx context.Context, id int64, cause string) error {
	return r.setStatus(id, models.JournalFailed, cause, false)
}

// Requeue puts a processing entry back to pending.
func (r *MemoryJournalRepository) Requeue(ctx context.Context, id int64, cause string) error {
	return r.setStatus(id, models.JournalPending, cause, false)
}

// PendingCount counts entries still waiting for replay.
func (r *MemoryJournalRepository) PendingCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.entries {
		if e.Status == models.JournalPending {
			count++
		}
	}
	return count, nil
}

// Interface conformance checks.
var (
	_ RecordStore  = (*OrderRepository)(nil)
	_ RecordStore  = (*LocalOrderRepository)(nil)
	_ RecordStore  = (*MemoryOrderRepository)(nil)
	_ CounterStore = (*CounterRepository)(nil)
	_ CounterStore = (*LocalCounterRepository)(nil)
	_ CounterStore = (*MemoryCounterRepository)(nil)
	_ JournalStore = (*JournalRepository)(nil)
	_ JournalStore = (*MemoryJournalRepository)(nil)
)
