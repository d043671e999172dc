package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrOverAllocation     = errors.New("allocation amount exceeds remaining payment amount")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidPeriod      = errors.New("period start must not be after period end")
	ErrConcurrentConflict = errors.New("concurrent modification, try again")
)
