package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/fueltek/workorder-api/internal/allocator"
	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/internal/repository"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// OrderEventsHandler applies order events from other instances to the
// local cache and keeps the correlative caught up, so a second device
// sees new numbers without polling the remote store.
type OrderEventsHandler struct {
	local      repository.RecordStore
	alloc      *allocator.Allocator
	instanceID string
	logger     logger.Logger
}

// NewOrderEventsHandler creates a new OrderEventsHandler.
func NewOrderEventsHandler(local repository.RecordStore, alloc *allocator.Allocator, instanceID string, logger logger.Logger) *OrderEventsHandler {
	return &OrderEventsHandler{
		local:      local,
		alloc:      alloc,
		instanceID: instanceID,
		logger:     logger,
	}
}

// HandleMessage handles one message from the orders topic.
func (h *OrderEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event models.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("Failed to unmarshal order event", "error", err)
		// Malformed messages cannot succeed on redelivery.
		return nil
	}

	if event.Source == h.instanceID {
		return nil
	}

	h.logger.Debug("Handling order event",
		"eventType", event.EventType,
		"eventId", event.EventID,
		"number", event.Number,
		"source", event.Source)

	switch event.EventType {
	case models.EventOrderSaved:
		return h.handleSaved(ctx, &event)
	case models.EventOrderDeleted:
		return h.handleDeleted(ctx, &event)
	default:
		h.logger.Warn("Unknown event type", "eventType", event.EventType)
		return nil
	}
}

func (h *OrderEventsHandler) handleSaved(ctx context.Context, event *models.OrderEvent) error {
	if event.Order == nil {
		return fmt.Errorf("order_saved event %s has no order payload", event.EventID)
	}

	event.Order.SyncState = models.SyncSynced
	if err := h.local.Put(ctx, event.Order); err != nil {
		return fmt.Errorf("cache order %d from event: %w", event.Number, err)
	}

	// Another device allocated this number; lift our counter past it
	// so our next allocation does not collide.
	if _, err := h.alloc.Reconcile(ctx); err != nil {
		h.logger.Warn("Reconcile after remote event failed", "error", err)
	}
	return nil
}

func (h *OrderEventsHandler) handleDeleted(ctx context.Context, event *models.OrderEvent) error {
	if err := h.local.Delete(ctx, event.Number); err != nil {
		return fmt.Errorf("drop order %d from cache: %w", event.Number, err)
	}
	return nil
}
