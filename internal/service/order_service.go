package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fueltek/workorder-api/internal/allocator"
	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/internal/repository"
	"github.com/fueltek/workorder-api/pkg/circuitbreaker"
	apperrors "github.com/fueltek/workorder-api/pkg/errors"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// EventPublisher notifies other instances about committed writes.
type EventPublisher interface {
	PublishOrderSaved(ctx context.Context, order *models.Order) error
	PublishOrderDeleted(ctx context.Context, number int64) error
}

// OrderService orchestrates the allocator and the record stores. It is
// the only caller of the allocator: a save with no prior identity
// allocates, everything else never does.
type OrderService struct {
	alloc     *allocator.Allocator
	remote    repository.RecordStore // nil when no remote store is configured
	local     repository.RecordStore
	journal   repository.JournalStore
	breaker   *circuitbreaker.CircuitBreaker
	publisher EventPublisher // nil when event fan-out is off
	floor     int64
	logger    logger.Logger
}

// NewOrderService creates an OrderService. remote and publisher may be
// nil; the breaker is shared with the allocator so both see the same
// view of remote health.
func NewOrderService(
	alloc *allocator.Allocator,
	remote repository.RecordStore,
	local repository.RecordStore,
	journal repository.JournalStore,
	breaker *circuitbreaker.CircuitBreaker,
	publisher EventPublisher,
	floor int64,
	logger logger.Logger,
) *OrderService {
	return &OrderService{
		alloc:     alloc,
		remote:    remote,
		local:     local,
		journal:   journal,
		breaker:   breaker,
		publisher: publisher,
		floor:     floor,
		logger:    logger,
	}
}

// SaveNew validates a candidate order, allocates its number and
// persists it. The returned order carries the final number and whether
// the write reached the authoritative store.
func (s *OrderService) SaveNew(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Number != 0 {
		return nil, apperrors.NewValidationError("a new order must not carry a number")
	}

	order.Normalize()
	if err := order.Validate(); err != nil {
		return nil, err
	}
	order.SavedAt = time.Now().UTC()

	saved, err := s.alloc.AllocateAndCommit(ctx, order)
	if err != nil {
		return nil, err
	}

	if saved.SyncState == models.SyncPending {
		s.enqueueJournal(ctx, models.JournalOpCreate, saved)
	} else {
		s.publishSaved(ctx, saved)
	}

	s.logger.Info("Order saved", "number", saved.Number, "sync", saved.SyncState)
	return saved, nil
}

// SaveUpdate overwrites an existing order. The number must already
// exist; the allocator is never involved.
func (s *OrderService) SaveUpdate(ctx context.Context, number int64, order *models.Order) (*models.Order, error) {
	if _, err := s.Get(ctx, number); err != nil {
		return nil, err
	}

	order.Number = number
	order.Normalize()
	if err := order.Validate(); err != nil {
		return nil, err
	}
	order.SavedAt = time.Now().UTC()

	if err := s.writeThrough(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info("Order updated", "number", number, "sync", order.SyncState)
	return order, nil
}

// writeThrough puts an order to the remote store when reachable and
// always to the local cache. A remote failure leaves the record
// local-only with a journal entry for the sync worker.
func (s *OrderService) writeThrough(ctx context.Context, order *models.Order) error {
	if s.remote == nil {
		order.SyncState = models.SyncSynced
		return s.local.Put(ctx, order)
	}

	remoteErr := circuitbreaker.ErrOpen
	if s.breaker.Allow() {
		remoteErr = s.remote.Put(ctx, order)
		if remoteErr == nil {
			s.breaker.Success()
		} else {
			s.breaker.Failure()
		}
	}

	if remoteErr == nil {
		order.SyncState = models.SyncSynced
	} else {
		order.SyncState = models.SyncPending
	}

	if err := s.local.Put(ctx, order); err != nil {
		if remoteErr != nil {
			// Neither store took the write; this save failed.
			return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
		}
		s.logger.Warn("Remote write succeeded but local cache update failed",
			"number", order.Number, "error", err)
	}

	if remoteErr != nil {
		s.logger.Warn("Remote write failed, order pending sync",
			"number", order.Number, "error", remoteErr)
		s.enqueueJournal(ctx, models.JournalOpUpsert, order)
	} else {
		s.publishSaved(ctx, order)
	}
	return nil
}

// Get returns an order, preferring the authoritative store and falling
// back to the cache so this client always reads its own writes.
func (s *OrderService) Get(ctx context.Context, number int64) (*models.Order, error) {
	if s.remote != nil && s.breaker.Allow() {
		order, err := s.remote.Get(ctx, number)
		switch {
		case err == nil:
			s.breaker.Success()
			return order, nil
		case errors.Is(err, apperrors.ErrNotFound):
			s.breaker.Success()
			// The record may exist locally while its sync is pending.
			return s.local.Get(ctx, number)
		default:
			s.breaker.Failure()
			s.logger.Warn("Remote read failed, using local cache", "number", number, "error", err)
		}
	}
	return s.local.Get(ctx, number)
}

// List returns orders matching the filter, most recent number first.
// The filter is a case-insensitive substring match over the order
// number and the client name.
func (s *OrderService) List(ctx context.Context, filter string) ([]*models.Order, error) {
	orders, err := s.getAllMerged(ctx)
	if err != nil {
		return nil, err
	}

	if filter != "" {
		needle := strings.ToLower(filter)
		matched := orders[:0]
		for _, o := range orders {
			if strings.Contains(o.Key(), needle) ||
				strings.Contains(strings.ToLower(o.Client), needle) {
				matched = append(matched, o)
			}
		}
		orders = matched
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].Number > orders[j].Number })
	return orders, nil
}

// getAllMerged combines the remote view with locally pending records,
// so an offline save is visible in listings before it syncs.
func (s *OrderService) getAllMerged(ctx context.Context) ([]*models.Order, error) {
	local, err := s.local.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	if s.remote == nil || !s.breaker.Allow() {
		return local, nil
	}

	remote, err := s.remote.GetAll(ctx)
	if err != nil {
		s.breaker.Failure()
		s.logger.Warn("Remote list failed, using local cache", "error", err)
		return local, nil
	}
	s.breaker.Success()

	byNumber := make(map[int64]*models.Order, len(remote))
	for _, o := range remote {
		byNumber[o.Number] = o
	}
	for _, o := range local {
		if o.SyncState == models.SyncPending {
			byNumber[o.Number] = o
		}
	}

	merged := make([]*models.Order, 0, len(byNumber))
	for _, o := range byNumber {
		merged = append(merged, o)
	}
	return merged, nil
}

// Remove deletes the order under the given number. The correlative is
// never lowered: a deleted number is retired, not recycled.
func (s *OrderService) Remove(ctx context.Context, number int64) error {
	if _, err := s.Get(ctx, number); err != nil {
		return err
	}

	if s.remote != nil {
		remoteErr := circuitbreaker.ErrOpen
		if s.breaker.Allow() {
			remoteErr = s.remote.Delete(ctx, number)
			if remoteErr == nil {
				s.breaker.Success()
			} else {
				s.breaker.Failure()
			}
		}
		if remoteErr != nil {
			s.logger.Warn("Remote delete failed, queueing for sync", "number", number, "error", remoteErr)
			entry, err := models.NewJournalEntry(models.JournalOpDelete, number, nil)
			if err == nil {
				if err := s.journal.Enqueue(ctx, entry); err != nil {
					s.logger.Error("Failed to enqueue delete for sync", "number", number, "error", err)
				}
			}
		} else if s.publisher != nil {
			if err := s.publisher.PublishOrderDeleted(ctx, number); err != nil {
				s.logger.Warn("Failed to publish delete event", "number", number, "error", err)
			}
		}
	}

	if err := s.local.Delete(ctx, number); err != nil {
		return err
	}

	s.logger.Info("Order removed", "number", number)
	return nil
}

// Wipe deletes every record and resets the correlative to the floor.
// Administrative and destructive; requires the remote store when one
// is configured.
func (s *OrderService) Wipe(ctx context.Context) error {
	if s.remote != nil {
		if err := s.remote.DeleteAll(ctx); err != nil {
			return err
		}
	}
	if err := s.local.DeleteAll(ctx); err != nil {
		return err
	}
	if err := s.alloc.Reset(ctx, s.floor); err != nil {
		return err
	}
	s.logger.Info("All orders deleted, correlative reset", "floor", s.floor)
	return nil
}

// PeekNext reports the number the next new order would get. Display
// only; nothing is reserved.
func (s *OrderService) PeekNext(ctx context.Context) (int64, error) {
	return s.alloc.PeekNext(ctx)
}

// Reconcile repairs counter drift from the stored data.
func (s *OrderService) Reconcile(ctx context.Context) (int64, error) {
	return s.alloc.Reconcile(ctx)
}

// ImportResult summarizes a backup restore.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Import restores a backup: elements without a number are saved as new
// orders, elements with one overwrite whatever is stored. Ends with a
// reconcile so imported numbers can never be issued again.
func (s *OrderService) Import(ctx context.Context, orders []*models.Order) (*ImportResult, error) {
	result := &ImportResult{}

	for _, order := range orders {
		if order.Number == 0 {
			if _, err := s.SaveNew(ctx, order); err != nil {
				return result, err
			}
			result.Created++
			continue
		}

		order.Normalize()
		if err := order.Validate(); err != nil {
			return result, err
		}
		order.SavedAt = time.Now().UTC()
		if err := s.writeThrough(ctx, order); err != nil {
			return result, err
		}
		result.Updated++
	}

	if _, err := s.alloc.Reconcile(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// SyncStatus describes how far the local state is from the remote one.
type SyncStatus struct {
	RemoteConfigured bool   `json:"remote_configured"`
	BreakerState     string `json:"breaker_state"`
	PendingEntries   int    `json:"pending_entries"`
}

// Status reports the sync backlog and breaker state.
func (s *OrderService) Status(ctx context.Context) (*SyncStatus, error) {
	pending, err := s.journal.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	return &SyncStatus{
		RemoteConfigured: s.remote != nil,
		BreakerState:     s.alloc.BreakerState(),
		PendingEntries:   pending,
	}, nil
}

func (s *OrderService) enqueueJournal(ctx context.Context, op models.JournalOp, order *models.Order) {
	if s.remote == nil {
		// Local-only mode has nothing to replay against.
		return
	}
	entry, err := models.NewJournalEntry(op, order.Number, order)
	if err != nil {
		s.logger.Error("Failed to build journal entry", "number", order.Number, "error", err)
		return
	}
	if err := s.journal.Enqueue(ctx, entry); err != nil {
		s.logger.Error("Failed to enqueue order for sync", "number", order.Number, "error", err)
	}
}

func (s *OrderService) publishSaved(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishOrderSaved(ctx, order); err != nil {
		s.logger.Warn("Failed to publish save event", "number", order.Number, "error", err)
	}
}
