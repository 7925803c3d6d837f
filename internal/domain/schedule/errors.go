package schedule

import (
	"errors"
	"fmt"
)

// Not-found errors. Terminal; surfaced to the caller directly.
var (
	ErrNotFound        = errors.New("schedule not found")
	ErrDoseLogNotFound = errors.New("no dose log for that date")
	ErrDoseNotFound    = errors.New("no dose at that time")
)

// Validation errors. Rejected before any mutation.
var (
	ErrInvalidDateRange  = errors.New("invalid date range")
	ErrMedicineExpired   = errors.New("medicine is expired")
	ErrInvalidDoseStatus = errors.New("dose status must be TAKEN or MISSED")
	ErrNoTimesOfDay      = errors.New("at least one time of day is required")
	ErrUserUnknown       = errors.New("user does not exist")
)

// Conflict errors. The caller can correct input and retry; the engine never
// retries on its own.
var (
	ErrScheduleOverlap   = errors.New("schedule overlaps an existing schedule for this medicine")
	ErrDoseAlreadyTaken  = errors.New("dose already taken")
	ErrDoseAlreadyMissed = errors.New("dose already missed")
	ErrVersionConflict   = errors.New("schedule was modified concurrently")
	ErrForbidden         = errors.New("schedule belongs to another user")
)

// InsufficientQuantityError reports an allocation below the exact dose count
// the date range requires.
type InsufficientQuantityError struct {
	Required int
	Provided int
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity: need %d doses, got %d (short %d)",
		e.Required, e.Provided, e.Required-e.Provided)
}

// Shortfall returns how many doses are missing.
func (e *InsufficientQuantityError) Shortfall() int { return e.Required - e.Provided }

// ExcessQuantityError reports an allocation above the exact dose count the
// date range requires. Over-allocation is rejected just like shortfall.
type ExcessQuantityError struct {
	Required int
	Provided int
}

func (e *ExcessQuantityError) Error() string {
	return fmt.Sprintf("excess quantity: need %d doses, got %d (excess %d)",
		e.Required, e.Provided, e.Provided-e.Required)
}

// Excess returns how many doses are over the requirement.
func (e *ExcessQuantityError) Excess() int { return e.Provided - e.Required }

// InsufficientStockError reports an allocation exceeding the units on hand of
// a user-owned medicine.
type InsufficientStockError struct {
	OnHand    int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: %d units on hand, %d requested", e.OnHand, e.Requested)
}

// TimesMismatchError reports a dose-count change whose times-of-day list does
// not match, or a times list supplied without its dose count (and vice versa).
type TimesMismatchError struct {
	DosesPerDay int
	Times       int
}

func (e *TimesMismatchError) Error() string {
	return fmt.Sprintf("times of day (%d) do not match doses per day (%d)", e.Times, e.DosesPerDay)
}
