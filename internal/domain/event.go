package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventAllocationCreated EventType = "allocation_created"
	EventAllocationDeleted EventType = "allocation_deleted"
	EventChargeStatus      EventType = "charge_status_changed"
	EventPaymentRecorded   EventType = "payment_recorded"
	EventPaymentUpdated    EventType = "payment_updated"
	EventPaymentDeleted    EventType = "payment_deleted"
	EventChargeRecorded    EventType = "charge_recorded"
	EventChargeDeleted     EventType = "charge_deleted"
)

// LedgerEvent describes a committed change to the ledgers of one property.
type LedgerEvent struct {
	Type         EventType        `json:"type"`
	PropertyID   int64            `json:"property_id"`
	PaymentID    int64            `json:"payment_id,omitempty"`
	RentChargeID int64            `json:"rent_charge_id,omitempty"`
	AllocationID int64            `json:"allocation_id,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Status       ChargeStatus     `json:"status,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}
