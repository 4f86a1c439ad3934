package models

import (
	"encoding/json"
	"time"
)

// JournalOp is the kind of write a journal entry replays.
type JournalOp string

const (
	JournalOpCreate JournalOp = "create" // first save, number allocated locally
	JournalOpUpsert JournalOp = "upsert" // update of an already-known number
	JournalOpDelete JournalOp = "delete"
)

// JournalStatus is the lifecycle state of a journal entry.
type JournalStatus string

const (
	JournalPending    JournalStatus = "pending"
	JournalProcessing JournalStatus = "processing"
	JournalDone       JournalStatus = "done"
	JournalFailed     JournalStatus = "failed"
)

// JournalEntry records a local write that has not reached the remote
// store yet. The sync worker replays entries in creation order.
type JournalEntry struct {
	ID          int64         `db:"id" json:"id"`
	Op          JournalOp     `db:"op" json:"op"`
	Number      int64         `db:"number" json:"number"`
	Payload     []byte        `db:"payload" json:"payload,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
	Attempts    int           `db:"attempts" json:"attempts"`
	LastError   *string       `db:"last_error" json:"last_error,omitempty"`
	Status      JournalStatus `db:"status" json:"status"`
}

// NewJournalEntry builds a pending entry for an order write. The order
// payload is captured at enqueue time; a delete carries no payload.
func NewJournalEntry(op JournalOp, number int64, order *Order) (*JournalEntry, error) {
	entry := &JournalEntry{
		Op:        op,
		Number:    number,
		CreatedAt: time.Now().UTC(),
		Status:    JournalPending,
	}
	if order != nil {
		payload, err := json.Marshal(order)
		if err != nil {
			return nil, err
		}
		entry.Payload = payload
	}
	return entry, nil
}

// DecodeOrder unmarshals the captured order payload.
func (e *JournalEntry) DecodeOrder() (*Order, error) {
	var order Order
	if err := json.Unmarshal(e.Payload, &order); err != nil {
		return nil, err
	}
	return &order, nil
}
