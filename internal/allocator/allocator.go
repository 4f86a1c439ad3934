// Package allocator owns correlative issuance: the next order number
// is strictly greater than every number ever issued, no number is
// issued twice, and the local and remote counters never move backwards.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/internal/repository"
	"github.com/fueltek/workorder-api/pkg/circuitbreaker"
	apperrors "github.com/fueltek/workorder-api/pkg/errors"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// Backend pairs a record store with its correlative counter.
type Backend struct {
	Orders  repository.RecordStore
	Counter repository.CounterStore
}

// Allocator issues order numbers against the authoritative store,
// falling back to the local cache when the remote one is unreachable.
//
// The correctness argument does not rest on the counter: the record
// store's create-if-absent key constraint is the race-breaker, and the
// counter is a monotonic cache that Reconcile can always repair from
// the stored data.
type Allocator struct {
	mu          sync.Mutex
	remote      *Backend // nil means local-only operation
	local       Backend
	breaker     *circuitbreaker.CircuitBreaker
	maxAttempts int
	floor       int64
	logger      logger.Logger
}

// New creates an allocator. remote may be nil when no authoritative
// store is configured; the capability is decided here, once, not
// probed at call sites.
func New(remote *Backend, local Backend, breaker *circuitbreaker.CircuitBreaker, maxAttempts int, floor int64, logger logger.Logger) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Allocator{
		remote:      remote,
		local:       local,
		breaker:     breaker,
		maxAttempts: maxAttempts,
		floor:       floor,
		logger:      logger,
	}
}

// Init lifts the local counter to the remote value at startup so a
// device that was offline catches up before its first allocation.
// A remote failure here is not fatal; the local value stands.
func (a *Allocator) Init(ctx context.Context) {
	if a.remote == nil {
		return
	}
	value, err := a.remote.Counter.Value(ctx)
	if err != nil {
		a.logger.Warn("Could not read remote correlative at startup", "error", err)
		a.breaker.Failure()
		return
	}
	a.breaker.Success()
	if err := a.local.Counter.Raise(ctx, value); err != nil {
		a.logger.Warn("Could not raise local correlative at startup", "error", err)
		return
	}
	a.logger.Info("Correlative initialized from remote store", "value", value)
}

// PeekNext returns the number the next allocation would use. Purely
// informational: nothing is reserved and a concurrent save elsewhere
// may take the number first.
func (a *Allocator) PeekNext(ctx context.Context) (int64, error) {
	value, err := a.currentValue(ctx)
	if err != nil {
		return 0, err
	}
	return value + 1, nil
}

func (a *Allocator) currentValue(ctx context.Context) (int64, error) {
	if a.remote != nil && a.breaker.Allow() {
		value, err := a.remote.Counter.Value(ctx)
		if err == nil {
			a.breaker.Success()
			return value, nil
		}
		a.breaker.Failure()
		a.logger.Warn("Remote correlative unavailable, using local value", "error", err)
	}
	return a.local.Counter.Value(ctx)
}

// AllocateAndCommit assigns the next free number to the order and
// persists it, as one logical step. The order write goes through
// create-if-absent, so two racing allocators can never both win the
// same number; the counter is raised only after the write succeeds.
// On a key conflict the candidate is bumped and retried up to the
// configured bound. When the remote store is unreachable the number
// comes from the local counter and the order is marked pending sync.
func (a *Allocator) AllocateAndCommit(ctx context.Context, order *models.Order) (*models.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.remote != nil && a.breaker.Allow() {
		_, err := a.allocateAgainst(ctx, a.remote, order)
		switch {
		case err == nil:
			a.breaker.Success()
			order.SyncState = models.SyncSynced
			a.mirrorToLocal(ctx, order)
			return order, nil
		case errors.Is(err, apperrors.ErrConflict):
			// Every candidate lost its race. The store is healthy, so
			// do not fall back to a locally numbered order.
			return nil, fmt.Errorf("%w: allocation retries exhausted: %v", apperrors.ErrUnavailable, err)
		case errors.Is(err, apperrors.ErrUnavailable):
			a.breaker.Failure()
			a.logger.Warn("Remote store unreachable, allocating from local cache",
				"error", err)
			// fall through to the local path
		default:
			return nil, err
		}
	}

	if _, err := a.allocateAgainst(ctx, &a.local, order); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("%w: local allocation exhausted: %v", apperrors.ErrUnavailable, err)
		}
		return nil, err
	}
	if a.remote == nil {
		// The local store is authoritative; there is nothing to sync.
		order.SyncState = models.SyncSynced
	} else {
		order.SyncState = models.SyncPending
		a.logger.Info("Order allocated locally, pending remote sync", "number", order.Number)
	}
	return order, nil
}

// allocateAgainst runs one bounded allocation loop against a backend:
// read counter, try candidates value+1, value+2, ... via
// create-if-absent, raise the counter only after a successful write.
func (a *Allocator) allocateAgainst(ctx context.Context, b *Backend, order *models.Order) (int64, error) {
	value, err := b.Counter.Value(ctx)
	if err != nil {
		return 0, err
	}

	var lastConflict error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		candidate := value + int64(attempt)
		order.Number = candidate

		err := b.Orders.CreateIfAbsent(ctx, order)
		if err == nil {
			if raiseErr := b.Counter.Raise(ctx, candidate); raiseErr != nil {
				// The order is committed; a stale counter is repaired
				// by the next Reconcile.
				a.logger.Warn("Order committed but counter raise failed",
					"number", candidate, "error", raiseErr)
			}
			return candidate, nil
		}
		if errors.Is(err, apperrors.ErrConflict) {
			lastConflict = err
			a.logger.Debug("Candidate number taken, retrying",
				"candidate", candidate, "attempt", attempt)
			continue
		}
		order.Number = 0
		return 0, err
	}

	order.Number = 0
	return 0, fmt.Errorf("%w: no free number after %d attempts: %v",
		apperrors.ErrConflict, a.maxAttempts, lastConflict)
}

// mirrorToLocal copies a remotely committed order into the cache.
// Best effort: the remote store already holds the truth.
func (a *Allocator) mirrorToLocal(ctx context.Context, order *models.Order) {
	if err := a.local.Orders.Put(ctx, order); err != nil {
		a.logger.Warn("Failed to mirror order to local cache", "number", order.Number, "error", err)
	}
	if err := a.local.Counter.Raise(ctx, order.Number); err != nil {
		a.logger.Warn("Failed to raise local correlative", "number", order.Number, "error", err)
	}
}

// Reconcile scans both stores for the true maximum order number and
// lifts every reachable counter to at least that value. Never lowers
// anything; calling it twice in a row is a no-op the second time.
func (a *Allocator) Reconcile(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	target, err := a.local.Counter.Value(ctx)
	if err != nil {
		return 0, err
	}

	localMax, err := a.local.Orders.MaxNumber(ctx)
	if err != nil {
		return 0, err
	}
	if localMax > target {
		target = localMax
	}

	remoteReachable := false
	if a.remote != nil && a.breaker.Allow() {
		remoteMax, err := a.remote.Orders.MaxNumber(ctx)
		if err != nil {
			a.breaker.Failure()
			a.logger.Warn("Reconcile could not scan remote store", "error", err)
		} else {
			remoteReachable = true
			if remoteMax > target {
				target = remoteMax
			}
			remoteValue, err := a.remote.Counter.Value(ctx)
			if err == nil && remoteValue > target {
				target = remoteValue
			}
		}
	}

	if err := a.local.Counter.Raise(ctx, target); err != nil {
		return 0, err
	}
	if remoteReachable {
		if err := a.remote.Counter.Raise(ctx, target); err != nil {
			a.breaker.Failure()
			a.logger.Warn("Reconcile could not raise remote correlative", "error", err)
		} else {
			a.breaker.Success()
		}
	}

	a.logger.Info("Correlative reconciled", "value", target)
	return target, nil
}

// Reset sets every counter to the floor unconditionally. Only valid
// alongside a full record wipe; monotonicity explicitly does not hold
// across a reset.
func (a *Allocator) Reset(ctx context.Context, floor int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.remote != nil {
		if err := a.remote.Counter.Reset(ctx, floor); err != nil {
			return err
		}
	}
	return a.local.Counter.Reset(ctx, floor)
}

// BreakerState reports the remote breaker state for the status
// endpoint. Local-only instances report "closed".
func (a *Allocator) BreakerState() string {
	if a.remote == nil {
		return circuitbreaker.StateClosed.String()
	}
	return a.breaker.State().String()
}

// RemoteConfigured reports whether an authoritative remote store
// backs this allocator.
func (a *Allocator) RemoteConfigured() bool {
	return a.remote != nil
}
