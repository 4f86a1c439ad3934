package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types published after a successful remote write.
const (
	EventOrderSaved   = "order_saved"
	EventOrderDeleted = "order_deleted"
)

// OrderEvent is the wire format on the orders topic. Source carries
// the publishing instance ID so consumers can skip their own events.
type OrderEvent struct {
	EventType  string    `json:"event_type"`
	EventID    string    `json:"event_id"`
	Source     string    `json:"source"`
	Number     int64     `json:"number,string"`
	OccurredAt time.Time `json:"occurred_at"`
	Order      *Order    `json:"order,omitempty"`
}

// NewOrderSavedEvent builds an event for a created or updated order.
func NewOrderSavedEvent(source string, order *Order) *OrderEvent {
	return &OrderEvent{
		EventType:  EventOrderSaved,
		EventID:    GenerateID("evt"),
		Source:     source,
		Number:     order.Number,
		OccurredAt: time.Now().UTC(),
		Order:      order,
	}
}

// NewOrderDeletedEvent builds an event for a deleted order number.
func NewOrderDeletedEvent(source string, number int64) *OrderEvent {
	return &OrderEvent{
		EventType:  EventOrderDeleted,
		EventID:    GenerateID("evt"),
		Source:     source,
		Number:     number,
		OccurredAt: time.Now().UTC(),
	}
}

// GenerateID generates a short unique ID with a prefix.
func GenerateID(prefix string) string {
	id := uuid.New().String()
	return fmt.Sprintf("%s-%s", prefix, id[:8])
}
