package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Property struct {
	ID          int64
	Address     string
	City        string
	PostalCode  string
	MonthlyRent decimal.Decimal
	IsActive    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Tenant struct {
	ID         int64
	PropertyID int64
	Name       string
	Email      *string
	Phone      *string

	MoveInDate  time.Time
	MoveOutDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCurrent reports whether the tenant still lives at the property.
func (t Tenant) IsCurrent() bool {
	return t.MoveOutDate == nil
}
