package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOptions controls pagination and filtering for per-user listings.
// NameFilter matches a case-insensitive substring of the medicine name.
type ListOptions struct {
	Page       int
	PageSize   int
	NameFilter string
}

// Limit returns the effective page size.
func (o ListOptions) Limit() int {
	if o.PageSize <= 0 {
		return 20
	}
	return o.PageSize
}

// Offset returns the effective row offset.
func (o ListOptions) Offset() int {
	page := o.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * o.Limit()
}

// Repository persists schedules. Write methods are conditional on
// Schedule.Version and return ErrVersionConflict when the row moved
// underneath the caller; implementations also drain Changes() into the
// transactional outbox within the same unit of work.
type Repository interface {
	Create(ctx context.Context, s *Schedule) error
	Get(ctx context.Context, id uuid.UUID) (*Schedule, error)
	// ListByUser returns one page of the user's schedules plus the total
	// count before pagination.
	ListByUser(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]*Schedule, int, error)
	// ListForPair returns every schedule for a user+medicine pair, for the
	// overlap check.
	ListForPair(ctx context.Context, userID, medicineID uuid.UUID) ([]*Schedule, error)
	// ListOverlapping returns the user's schedules whose date range
	// intersects [from, to], optionally filtered to one medicine.
	ListOverlapping(ctx context.Context, userID uuid.UUID, medicineID *uuid.UUID, from, to time.Time) ([]*Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, s *Schedule) error
	// ApplyDoseTransition persists a dose state change and, when
	// decrementMedicine is non-nil, decrements that medicine's stock by one,
	// both in a single atomic unit. The decrement is conditional on stock
	// remaining and fails the whole write with medicine.ErrOutOfStock.
	ApplyDoseTransition(ctx context.Context, s *Schedule, decrementMedicine *uuid.UUID) error
}
