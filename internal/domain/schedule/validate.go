package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/dosetrack/go-mat/internal/domain/medicine"
)

// ValidationInput carries the effective values a schedule would have after a
// create or update. ExcludeID removes the schedule being updated from the
// overlap check.
type ValidationInput struct {
	StartDate         time.Time
	EndDate           time.Time
	DosesPerDay       int
	AllocatedQuantity int
	ExcludeID         uuid.UUID
}

// ValidateCreate applies the strict creation rules: dates today-or-future,
// medicine not expired, allocation exactly equal to days*dosesPerDay, no
// range overlap with an existing schedule for the same user+medicine pair,
// and allocation within stock for user-owned medicines. Read-only; now is
// injected so callers pin the clock.
func ValidateCreate(med *medicine.Medicine, existing []*Schedule, in ValidationInput, now time.Time) error {
	today := UTCDate(now)
	if UTCDate(in.StartDate).Before(today) || UTCDate(in.EndDate).Before(today) {
		return ErrInvalidDateRange
	}
	return validateCommon(med, existing, in, now, true)
}

// ValidateUpdate applies the creation rules minus the dates-not-in-past check:
// a running schedule legitimately has a start date behind today.
func ValidateUpdate(med *medicine.Medicine, existing []*Schedule, in ValidationInput, now time.Time) error {
	return validateCommon(med, existing, in, now, true)
}

// ValidateAutomated applies the relaxed rules for the machine-driven creation
// path: identical to ValidateCreate except the exact-quantity invariant is
// replaced by an upper bound against stock. Kept as its own entry point so the
// strict path can never be relaxed by accident.
func ValidateAutomated(med *medicine.Medicine, existing []*Schedule, in ValidationInput, now time.Time) error {
	today := UTCDate(now)
	if UTCDate(in.StartDate).Before(today) || UTCDate(in.EndDate).Before(today) {
		return ErrInvalidDateRange
	}
	return validateCommon(med, existing, in, now, false)
}

func validateCommon(med *medicine.Medicine, existing []*Schedule, in ValidationInput, now time.Time, exactQuantity bool) error {
	start, end := UTCDate(in.StartDate), UTCDate(in.EndDate)
	if start.After(end) {
		return ErrInvalidDateRange
	}
	if med.Expired(UTCDate(now)) {
		return ErrMedicineExpired
	}

	if exactQuantity {
		required := DaysInRange(start, end) * in.DosesPerDay
		if in.AllocatedQuantity < required {
			return &InsufficientQuantityError{Required: required, Provided: in.AllocatedQuantity}
		}
		if in.AllocatedQuantity > required {
			return &ExcessQuantityError{Required: required, Provided: in.AllocatedQuantity}
		}
	}

	for _, s := range existing {
		if s.ID == in.ExcludeID {
			continue
		}
		// Inclusive interval intersection.
		if !UTCDate(s.StartDate).After(end) && !UTCDate(s.EndDate).Before(start) {
			return ErrScheduleOverlap
		}
	}

	if med.UserOwned() && in.AllocatedQuantity > med.QuantityOnHand {
		return &InsufficientStockError{OnHand: med.QuantityOnHand, Requested: in.AllocatedQuantity}
	}
	return nil
}
