package models

import (
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/fueltek/workorder-api/pkg/errors"
)

// PaymentStatus represents the payment state of a work order.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
)

// SyncState tells whether a record has reached the authoritative store.
type SyncState string

const (
	SyncSynced  SyncState = "synced"
	SyncPending SyncState = "pending"
)

// Order is a persisted work order. Number is assigned exactly once, on
// the first successful save, and never changes afterwards.
type Order struct {
	Number        int64         `db:"number" json:"number,string"`
	Client        string        `db:"client_name" json:"client_name"`
	Phone         string        `db:"client_phone" json:"client_phone,omitempty"`
	Email         string        `db:"client_email" json:"client_email,omitempty"`
	ReceivedAt    string        `db:"received_at" json:"received_at,omitempty"`
	PromisedAt    string        `db:"promised_at" json:"promised_at,omitempty"`
	Brand         string        `db:"brand" json:"brand,omitempty"`
	ToolModel     string        `db:"tool_model" json:"tool_model,omitempty"`
	Serial        string        `db:"serial" json:"serial,omitempty"`
	Year          string        `db:"year" json:"year,omitempty"`
	Accessories   []string      `db:"-" json:"accessories"`
	Diagnosis     string        `db:"diagnosis" json:"diagnosis,omitempty"`
	WorkNotes     string        `db:"work_notes" json:"work_notes,omitempty"`
	TotalAmount   int64         `db:"total_amount" json:"total_amount"`
	AmountPaid    int64         `db:"amount_paid" json:"amount_paid"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`
	Signature     string        `db:"signature" json:"signature,omitempty"`
	SavedAt       time.Time     `db:"saved_at" json:"saved_at"`
	SyncState     SyncState     `db:"sync_state" json:"sync_state,omitempty"`
}

// Key returns the store key for this order. Numbers are always keyed
// as strings so both backings look records up the same way.
func (o *Order) Key() string {
	return strconv.FormatInt(o.Number, 10)
}

// Normalize fills derived payment fields before validation: an empty
// status means pending, paid forces the paid amount to the total, and
// pending clears it.
func (o *Order) Normalize() {
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}
	switch o.PaymentStatus {
	case PaymentPaid:
		o.AmountPaid = o.TotalAmount
	case PaymentPending:
		o.AmountPaid = 0
	}
	if o.Accessories == nil {
		o.Accessories = []string{}
	}
}

// Validate checks the business invariants. Call Normalize first.
func (o *Order) Validate() error {
	if o.TotalAmount < 0 {
		return apperrors.NewValidationError("total amount cannot be negative")
	}
	if o.AmountPaid < 0 {
		return apperrors.NewValidationError("paid amount cannot be negative")
	}

	switch o.PaymentStatus {
	case PaymentPending, PaymentPaid:
		// Amounts were forced by Normalize.
	case PaymentPartiallyPaid:
		if o.AmountPaid <= 0 {
			return apperrors.NewValidationError("partially paid order needs a paid amount")
		}
		if o.AmountPaid >= o.TotalAmount {
			return apperrors.NewValidationError(
				fmt.Sprintf("paid amount %d must be below the total %d", o.AmountPaid, o.TotalAmount))
		}
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown payment status %q", o.PaymentStatus))
	}
	return nil
}

// ParseNumber parses a string order key back into a number.
func ParseNumber(key string) (int64, error) {
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil || n <= 0 {
		return 0, apperrors.NewValidationError(fmt.Sprintf("invalid order number %q", key))
	}
	return n, nil
}
