package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fueltek/workorder-api/internal/allocator"
	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/internal/repository"
	"github.com/fueltek/workorder-api/pkg/circuitbreaker"
	apperrors "github.com/fueltek/workorder-api/pkg/errors"
	"github.com/fueltek/workorder-api/pkg/logger"
)

const testFloor = 726

type fixture struct {
	svc           *OrderService
	remoteOrders  *repository.MemoryOrderRepository
	remoteCounter *repository.MemoryCounterRepository
	localOrders   *repository.MemoryOrderRepository
	localCounter  *repository.MemoryCounterRepository
	journal       *repository.MemoryJournalRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		remoteOrders:  repository.NewMemoryOrderRepository(),
		remoteCounter: repository.NewMemoryCounterRepository(testFloor),
		localOrders:   repository.NewMemoryOrderRepository(),
		localCounter:  repository.NewMemoryCounterRepository(testFloor),
		journal:       repository.NewMemoryJournalRepository(),
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
	})
	alloc := allocator.New(
		&allocator.Backend{Orders: f.remoteOrders, Counter: f.remoteCounter},
		allocator.Backend{Orders: f.localOrders, Counter: f.localCounter},
		breaker, 5, testFloor, logger.Nop(),
	)
	f.svc = NewOrderService(alloc, f.remoteOrders, f.localOrders, f.journal,
		breaker, nil, testFloor, logger.Nop())
	return f
}

func (f *fixture) failRemote() {
	err := apperrors.NewUnavailableError("store down")
	f.remoteOrders.FailWith(err)
	f.remoteCounter.FailWith(err)
}

func TestSaveNewAllocatesSequentially(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.SaveNew(ctx, &models.Order{Client: "Pedro Soto"})
	require.NoError(t, err)
	assert.Equal(t, int64(727), first.Number)
	assert.Equal(t, models.SyncSynced, first.SyncState)
	assert.False(t, first.SavedAt.IsZero())

	second, err := f.svc.SaveNew(ctx, &models.Order{Client: "Maria Rojas"})
	require.NoError(t, err)
	assert.Equal(t, int64(728), second.Number)
}

func TestSaveNewRejectsPresetNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SaveNew(ctx, &models.Order{Number: 900, Client: "Pedro"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestPaidStatusForcesPaidAmountToTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	saved, err := f.svc.SaveNew(ctx, &models.Order{
		Client:        "Pedro",
		TotalAmount:   10000,
		AmountPaid:    4000,
		PaymentStatus: models.PaymentPaid,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), saved.AmountPaid)
}

func TestPendingStatusClearsPaidAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	saved, err := f.svc.SaveNew(ctx, &models.Order{
		Client:      "Pedro",
		TotalAmount: 10000,
		AmountPaid:  4000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, saved.PaymentStatus)
	assert.Zero(t, saved.AmountPaid)
}

func TestPartialPaymentMustBeBelowTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SaveNew(ctx, &models.Order{
		Client:        "Pedro",
		TotalAmount:   15000,
		AmountPaid:    15000,
		PaymentStatus: models.PaymentPartiallyPaid,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.svc.SaveNew(ctx, &models.Order{
		Client:        "Pedro",
		TotalAmount:   15000,
		PaymentStatus: models.PaymentPartiallyPaid,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	saved, err := f.svc.SaveNew(ctx, &models.Order{
		Client:        "Pedro",
		TotalAmount:   15000,
		AmountPaid:    10000,
		PaymentStatus: models.PaymentPartiallyPaid,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), saved.AmountPaid)
}

func TestSaveUpdateUnknownNumberIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SaveUpdate(ctx, 999, &models.Order{Client: "Pedro"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSaveUpdateNeverAdvancesTheCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	saved, err := f.svc.SaveNew(ctx, &models.Order{Client: "Pedro"})
	require.NoError(t, err)

	saved.Diagnosis = "worn brushes"
	updated, err := f.svc.SaveUpdate(ctx, saved.Number, saved)
	require.NoError(t, err)
	assert.Equal(t, saved.Number, updated.Number)
	assert.Equal(t, "worn brushes", updated.Diagnosis)

	next, err := f.svc.PeekNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.Number+1, next)
}

func TestListFiltersAndSortsDescending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SaveNew(ctx, &models.Order{Client: "Pedro Soto"})
	require.NoError(t, err)
	maria, err := f.svc.SaveNew(ctx, &models.Order{Client: "Maria Rojas"})
	require.NoError(t, err)
	_, err = f.svc.SaveNew(ctx, &models.Order{Client: "Pedro Pablo"})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(729), all[0].Number)
	assert.Equal(t, int64(727), all[2].Number)

	pedros, err := f.svc.List(ctx, "PEDRO")
	require.NoError(t, err)
	require.Len(t, pedros, 2)
	assert.Equal(t, int64(729), pedros[0].Number)

	byNumber, err := f.svc.List(ctx, maria.Key())
	require.NoError(t, err)
	require.Len(t, byNumber, 1)
	assert.Equal(t, "Maria Rojas", byNumber[0].Client)
}

func TestRemoveRetiresTheNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	saved, err := f.svc.SaveNew(ctx, &models.Order{Client: "Pedro"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Remove(ctx, saved.Number))

	_, err = f.svc.Get(ctx, saved.Number)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	next, err := f.svc.PeekNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.Number+1, next)
}

func TestRemoveUnknownNumberIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.svc.Remove(ctx, 999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWipeResetsTheCorrelative(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.SaveNew(ctx, &models.Order{Client: "Pedro"})
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.Wipe(ctx))

	all, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	next, err := f.svc.PeekNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(testFloor+1), next)
}

func TestSaveNewWhileRemoteDownQueuesSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.failRemote()

	saved, err := f.svc.SaveNew(ctx, &models.Order{Client: "Pedro"})
	require.NoError(t, err)
	assert.Equal(t, int64(727), saved.Number)
	assert.Equal(t, models.SyncPending, saved.SyncState)

	pending, err := f.journal.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.RemoteConfigured)
	assert.Equal(t, 1, status.PendingEntries)
}

func TestPendingRecordVisibleInGetAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.failRemote()

	saved, err := f.svc.SaveNew(ctx, &models.Order{Client: "Pedro"})
	require.NoError(t, err)

	// Reads fall back to the cache while the remote store is down, and
	// keep showing the pending record once it is back.
	got, err := f.svc.Get(ctx, saved.Number)
	require.NoError(t, err)
	assert.Equal(t, "Pedro", got.Client)

	f.remoteOrders.FailWith(nil)
	f.remoteCounter.FailWith(nil)

	got, err = f.svc.Get(ctx, saved.Number)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPending, got.SyncState)

	all, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, saved.Number, all[0].Number)
}

func TestUpdateWhileRemoteDownQueuesUpsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	saved, err := f.svc.SaveNew(ctx, &models.Order{Client: "Pedro"})
	require.NoError(t, err)

	f.failRemote()
	saved.WorkNotes = "replaced armature"
	updated, err := f.svc.SaveUpdate(ctx, saved.Number, saved)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPending, updated.SyncState)

	pending, err := f.journal.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestImportAllocatesAndUpserts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.svc.Import(ctx, []*models.Order{
		{Number: 740, Client: "Restored"},
		{Client: "Fresh"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)

	restored, err := f.svc.Get(ctx, 740)
	require.NoError(t, err)
	assert.Equal(t, "Restored", restored.Client)

	// The closing reconcile guarantees imported numbers are never
	// issued again.
	next, err := f.svc.PeekNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(741), next)
}

func TestImportRejectsInvalidOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Import(ctx, []*models.Order{
		{Number: 740, Client: "Bad", TotalAmount: -1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestLocalOnlyModeSavesSynced(t *testing.T) {
	ctx := context.Background()
	localOrders := repository.NewMemoryOrderRepository()
	localCounter := repository.NewMemoryCounterRepository(testFloor)
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1})
	alloc := allocator.New(nil,
		allocator.Backend{Orders: localOrders, Counter: localCounter},
		breaker, 5, testFloor, logger.Nop())
	svc := NewOrderService(alloc, nil, localOrders, repository.NewMemoryJournalRepository(),
		breaker, nil, testFloor, logger.Nop())

	saved, err := svc.SaveNew(ctx, &models.Order{Client: "Pedro"})
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, saved.SyncState)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.RemoteConfigured)
	assert.Zero(t, status.PendingEntries)
}
