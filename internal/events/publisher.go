// Package events connects the service to the orders topic: it
// publishes committed writes and applies events from other instances
// to the local cache.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fueltek/workorder-api/internal/models"
	"github.com/fueltek/workorder-api/pkg/kafka"
	"github.com/fueltek/workorder-api/pkg/logger"
)

// Publisher emits order events for other instances. Satisfies the
// EventPublisher interfaces declared by the service and sync packages.
type Publisher struct {
	producer   *kafka.Producer
	topic      string
	instanceID string
	logger     logger.Logger
}

// NewPublisher creates a publisher tagged with this instance's ID so
// consumers can skip their own events.
func NewPublisher(producer *kafka.Producer, topic, instanceID string, logger logger.Logger) *Publisher {
	return &Publisher{
		producer:   producer,
		topic:      topic,
		instanceID: instanceID,
		logger:     logger,
	}
}

// PublishOrderSaved emits an order_saved event.
func (p *Publisher) PublishOrderSaved(ctx context.Context, order *models.Order) error {
	return p.publish(models.NewOrderSavedEvent(p.instanceID, order))
}

// PublishOrderDeleted emits an order_deleted event.
func (p *Publisher) PublishOrderDeleted(ctx context.Context, number int64) error {
	return p.publish(models.NewOrderDeletedEvent(p.instanceID, number))
}

func (p *Publisher) publish(event *models.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := fmt.Sprintf("%d", event.Number)
	return p.producer.SendMessage(p.topic, key, payload)
}
