package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Payment struct {
	ID          int64
	PropertyID  int64
	Amount      decimal.Decimal
	PaymentDate time.Time
	Notes       *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentAllocation matches part of a payment to a rent charge.
type PaymentAllocation struct {
	ID           int64
	PaymentID    int64
	RentChargeID int64
	Amount       decimal.Decimal
	CreatedAt    time.Time
}
