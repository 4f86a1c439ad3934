package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fueltek/workorder-api/internal/allocator"
	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/internal/repository"
	"github.com/fueltek/workorder-api/pkg/circuitbreaker"
	apperrors "github.com/fueltek/workorder-api/pkg/errors"
	"github.com/fueltek/workorder-api/pkg/logger"
)

type fixture struct {
	handler      *OrderEventsHandler
	localOrders  *repository.MemoryOrderRepository
	localCounter *repository.MemoryCounterRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		localOrders:  repository.NewMemoryOrderRepository(),
		localCounter: repository.NewMemoryCounterRepository(726),
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
	})
	alloc := allocator.New(nil,
		allocator.Backend{Orders: f.localOrders, Counter: f.localCounter},
		breaker, 5, 726, logger.Nop())
	f.handler = NewOrderEventsHandler(f.localOrders, alloc, "instance-a", logger.Nop())
	return f
}

func message(t *testing.T, event *models.OrderEvent) *sarama.ConsumerMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "workorder-events", Value: payload}
}

func TestSavedEventUpdatesCacheAndCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	event := models.NewOrderSavedEvent("instance-b",
		&models.Order{Number: 730, Client: "Pedro"})
	require.NoError(t, f.handler.HandleMessage(ctx, message(t, event)))

	cached, err := f.localOrders.Get(ctx, 730)
	require.NoError(t, err)
	assert.Equal(t, "Pedro", cached.Client)
	assert.Equal(t, models.SyncSynced, cached.SyncState)

	// The counter caught up, so the next local allocation is past 730.
	value, err := f.localCounter.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(730), value)
}

func TestOwnEventsAreSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	event := models.NewOrderSavedEvent("instance-a",
		&models.Order{Number: 730, Client: "Pedro"})
	require.NoError(t, f.handler.HandleMessage(ctx, message(t, event)))

	_, err := f.localOrders.Get(ctx, 730)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeletedEventDropsCachedOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.localOrders.Put(ctx, &models.Order{Number: 730, Client: "Pedro"}))

	event := models.NewOrderDeletedEvent("instance-b", 730)
	require.NoError(t, f.handler.HandleMessage(ctx, message(t, event)))

	_, err := f.localOrders.Get(ctx, 730)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMalformedMessageIsNotRedelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg := &sarama.ConsumerMessage{Topic: "workorder-events", Value: []byte("not json")}
	assert.NoError(t, f.handler.HandleMessage(ctx, msg))
}
