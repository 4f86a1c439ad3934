// Package sync replays journaled local writes against the remote
// store once it becomes reachable again.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fueltek/workorder-api/internal/allocator"
	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/internal/repository"
	"github.com/fueltek/workorder-api/pkg/circuitbreaker"
	apperrors "github.com/fueltek/workorder-api/pkg/errors"
	"github.com/fueltek/workorder-api/pkg/logger"
	"github.com/fueltek/workorder-api/pkg/retry"
)

// EventPublisher notifies other instances after a replay lands.
type EventPublisher interface {
	PublishOrderSaved(ctx context.Context, order *models.Order) error
	PublishOrderDeleted(ctx context.Context, number int64) error
}

// Config tunes the replay loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries caps attempts for entries that fail for reasons other
	// than remote unavailability. Unreachable-store entries are
	// requeued indefinitely; they are the journal's reason to exist.
	MaxRetries int
	Backoff    retry.BackoffStrategy
}

// Syncer drains the journal: every pending local write is replayed
// against the remote store through the circuit breaker. A locally
// allocated number that is already taken remotely is renumbered via
// the allocator.
type Syncer struct {
	journal   repository.JournalStore
	remote    *allocator.Backend
	local     repository.RecordStore
	alloc     *allocator.Allocator
	breaker   *circuitbreaker.CircuitBreaker
	publisher EventPublisher // nil when event fan-out is off
	cfg       Config
	logger    logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSyncer creates a syncer. The breaker is the same instance the
// allocator uses, so replay backs off while the remote store is down.
func NewSyncer(
	journal repository.JournalStore,
	remote *allocator.Backend,
	local repository.RecordStore,
	alloc *allocator.Allocator,
	breaker *circuitbreaker.CircuitBreaker,
	publisher EventPublisher,
	cfg Config,
	logger logger.Logger,
) *Syncer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.NewDefaultExponentialBackoff()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		journal:   journal,
		remote:    remote,
		local:     local,
		alloc:     alloc,
		breaker:   breaker,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the replay loop.
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.logger.Info("Sync worker started",
		"pollInterval", s.cfg.PollInterval,
		"batchSize", s.cfg.BatchSize)
}

// Stop halts the replay loop and waits for the current pass.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.logger.Info("Sync worker stopped")
}

func (s *Syncer) run() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessBatch(s.ctx); err != nil {
				s.logger.Error("Sync pass failed", "error", err)
			}
		}
	}
}

// ProcessBatch replays one batch of pending entries. Exported so the
// status endpoint and tests can force a pass.
func (s *Syncer) ProcessBatch(ctx context.Context) error {
	if !s.breaker.Allow() {
		// Remote is known-down; let entries age in the journal.
		return nil
	}

	entries, err := s.journal.Pending(ctx, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending entries: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.processEntry(ctx, entry)
	}
	return nil
}

func (s *Syncer) processEntry(ctx context.Context, entry *models.JournalEntry) {
	if err := s.journal.MarkProcessing(ctx, entry.ID); err != nil {
		s.logger.Error("Failed to claim journal entry", "id", entry.ID, "error", err)
		return
	}

	err := s.replay(ctx, entry)
	switch {
	case err == nil:
		s.breaker.Success()
		if err := s.journal.MarkDone(ctx, entry.ID); err != nil {
			s.logger.Error("Failed to finish journal entry", "id", entry.ID, "error", err)
		}
	case errors.Is(err, apperrors.ErrUnavailable):
		s.breaker.Failure()
		s.logger.Warn("Remote still unreachable, entry requeued",
			"id", entry.ID, "number", entry.Number)
		if err := s.journal.Requeue(ctx, entry.ID, err.Error()); err != nil {
			s.logger.Error("Failed to requeue journal entry", "id", entry.ID, "error", err)
		}
	default:
		if entry.Attempts >= s.cfg.MaxRetries {
			s.logger.Error("Journal entry failed permanently",
				"id", entry.ID, "number", entry.Number, "attempts", entry.Attempts, "error", err)
			if err := s.journal.MarkFailed(ctx, entry.ID, err.Error()); err != nil {
				s.logger.Error("Failed to mark journal entry failed", "id", entry.ID, "error", err)
			}
			return
		}
		s.logger.Warn("Journal entry replay failed, will retry",
			"id", entry.ID, "attempts", entry.Attempts, "error", err)
		if err := s.journal.Requeue(ctx, entry.ID, err.Error()); err != nil {
			s.logger.Error("Failed to requeue journal entry", "id", entry.ID, "error", err)
		}
	}
}

func (s *Syncer) replay(ctx context.Context, entry *models.JournalEntry) error {
	switch entry.Op {
	case models.JournalOpDelete:
		return s.replayDelete(ctx, entry)
	case models.JournalOpCreate:
		return s.replayCreate(ctx, entry)
	case models.JournalOpUpsert:
		return s.replayUpsert(ctx, entry)
	default:
		return fmt.Errorf("unknown journal op %q", entry.Op)
	}
}

func (s *Syncer) replayDelete(ctx context.Context, entry *models.JournalEntry) error {
	if err := s.retryRemote(ctx, func() error {
		return s.remote.Orders.Delete(ctx, entry.Number)
	}); err != nil {
		return err
	}
	s.publishDeleted(ctx, entry.Number)
	return nil
}

func (s *Syncer) replayUpsert(ctx context.Context, entry *models.JournalEntry) error {
	order, err := entry.DecodeOrder()
	if err != nil {
		return err
	}
	order.SyncState = models.SyncSynced

	if err := s.retryRemote(ctx, func() error {
		return s.remote.Orders.Put(ctx, order)
	}); err != nil {
		return err
	}

	s.markLocalSynced(ctx, order)
	s.publishSaved(ctx, order)
	return nil
}

// replayCreate pushes a locally allocated order to the remote store.
// If its number was taken remotely while this device was offline, the
// order is renumbered through the allocator and the old local record
// is dropped.
func (s *Syncer) replayCreate(ctx context.Context, entry *models.JournalEntry) error {
	order, err := entry.DecodeOrder()
	if err != nil {
		return err
	}
	order.SyncState = models.SyncSynced

	err = s.retryRemote(ctx, func() error {
		return s.remote.Orders.CreateIfAbsent(ctx, order)
	})
	switch {
	case err == nil:
		if raiseErr := s.remote.Counter.Raise(ctx, order.Number); raiseErr != nil {
			s.logger.Warn("Replayed order committed but counter raise failed",
				"number", order.Number, "error", raiseErr)
		}
		s.markLocalSynced(ctx, order)
		s.publishSaved(ctx, order)
		return nil
	case errors.Is(err, apperrors.ErrConflict):
		return s.renumber(ctx, entry, order)
	default:
		return err
	}
}

func (s *Syncer) renumber(ctx context.Context, entry *models.JournalEntry, order *models.Order) error {
	// A conflict can also mean our own earlier replay landed and the
	// process died before the entry was marked done.
	existing, err := s.remote.Orders.Get(ctx, order.Number)
	if err == nil && existing.Client == order.Client && existing.SavedAt.Equal(order.SavedAt) {
		s.logger.Info("Replayed order already present remotely", "number", order.Number)
		s.markLocalSynced(ctx, order)
		return nil
	}

	oldNumber := order.Number
	if _, err := s.alloc.Reconcile(ctx); err != nil {
		return err
	}

	renumbered := *order
	renumbered.Number = 0
	saved, err := s.alloc.AllocateAndCommit(ctx, &renumbered)
	if err != nil {
		return err
	}

	if err := s.local.Delete(ctx, oldNumber); err != nil {
		s.logger.Warn("Failed to drop old local record after renumbering",
			"old", oldNumber, "new", saved.Number, "error", err)
	}

	s.logger.Warn("Order renumbered after offline collision",
		"old", oldNumber, "new", saved.Number)

	if saved.SyncState == models.SyncPending {
		// The remote store vanished mid-renumber; the allocator left a
		// local record, so queue it like any other offline creation.
		newEntry, err := models.NewJournalEntry(models.JournalOpCreate, saved.Number, saved)
		if err != nil {
			return err
		}
		return s.journal.Enqueue(ctx, newEntry)
	}

	s.publishSaved(ctx, saved)
	return nil
}

// retryRemote wraps one remote call with a short in-pass retry for
// transient hiccups. True outages surface as ErrUnavailable and are
// handled by requeueing.
func (s *Syncer) retryRemote(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, fn, &retry.Config{
		MaxAttempts:     2,
		BackoffStrategy: s.cfg.Backoff,
		Logger:          s.logger,
		RetryableErrors: []error{apperrors.ErrUnavailable},
	})
}

func (s *Syncer) markLocalSynced(ctx context.Context, order *models.Order) {
	order.SyncState = models.SyncSynced
	if err := s.local.Put(ctx, order); err != nil {
		s.logger.Warn("Failed to mark local record synced", "number", order.Number, "error", err)
	}
}

func (s *Syncer) publishSaved(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishOrderSaved(ctx, order); err != nil {
		s.logger.Warn("Failed to publish save event", "number", order.Number, "error", err)
	}
}

func (s *Syncer) publishDeleted(ctx context.Context, number int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishOrderDeleted(ctx, number); err != nil {
		s.logger.Warn("Failed to publish delete event", "number", number, "error", err)
	}
}
