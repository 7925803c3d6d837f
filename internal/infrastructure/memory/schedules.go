package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dosetrack/go-mat/internal/domain/schedule"
)

// ScheduleRepo is an in-memory schedule repository with the same optimistic
// locking semantics as the postgres adapter. It shares the medicine store so
// a dose transition and its stock decrement commit or fail as one.
type ScheduleRepo struct {
	mu        sync.RWMutex
	schedules map[uuid.UUID]*schedule.Schedule
	medicines *MedicineStore
	published []*schedule.Event
}

// NewScheduleRepo creates an empty repository sharing the given medicine
// store for atomic dose transitions.
func NewScheduleRepo(medicines *MedicineStore) *ScheduleRepo {
	return &ScheduleRepo{
		schedules: make(map[uuid.UUID]*schedule.Schedule),
		medicines: medicines,
	}
}

func clone(s *schedule.Schedule) *schedule.Schedule {
	cp := *s
	cp.TimesOfDay = append([]string(nil), s.TimesOfDay...)
	cp.DoseLog = make([]schedule.DailyDoseLog, len(s.DoseLog))
	for i, day := range s.DoseLog {
		cp.DoseLog[i] = schedule.DailyDoseLog{
			Date:  day.Date,
			Doses: append([]schedule.DoseEntry(nil), day.Doses...),
		}
	}
	cp.ClearChanges()
	return &cp
}

// drain collects the aggregate's uncommitted events, standing in for the
// outbox write the postgres adapter performs in-transaction.
func (r *ScheduleRepo) drain(s *schedule.Schedule) {
	r.published = append(r.published, s.Changes()...)
	s.ClearChanges()
}

// Events returns every event drained so far, for test assertions.
func (r *ScheduleRepo) Events() []*schedule.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*schedule.Event(nil), r.published...)
}

// Create persists a new schedule at version 1.
func (r *ScheduleRepo) Create(_ context.Context, s *schedule.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Version = 1
	r.drain(s)
	r.schedules[s.ID] = clone(s)
	return nil
}

// Get returns a copy of the schedule.
func (r *ScheduleRepo) Get(_ context.Context, id uuid.UUID) (*schedule.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, schedule.ErrNotFound
	}
	return clone(s), nil
}

// ListByUser pages through a user's schedules ordered by start date, with an
// optional medicine-name substring filter.
func (r *ScheduleRepo) ListByUser(ctx context.Context, userID uuid.UUID, opts schedule.ListOptions) ([]*schedule.Schedule, int, error) {
	r.mu.RLock()
	var all []*schedule.Schedule
	for _, s := range r.schedules {
		if s.UserID == userID {
			all = append(all, clone(s))
		}
	}
	r.mu.RUnlock()

	if opts.NameFilter != "" && r.medicines != nil {
		filtered := all[:0]
		for _, s := range all {
			med, err := r.medicines.GetByID(ctx, s.MedicineID)
			if err != nil {
				continue
			}
			if strings.Contains(strings.ToLower(med.Name), strings.ToLower(opts.NameFilter)) {
				filtered = append(filtered, s)
			}
		}
		all = filtered
	}

	sort.Slice(all, func(i, j int) bool { return all[i].StartDate.Before(all[j].StartDate) })

	total := len(all)
	offset := opts.Offset()
	if offset >= total {
		return nil, total, nil
	}
	end := offset + opts.Limit()
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// ListForPair returns every schedule for a user+medicine pair.
func (r *ScheduleRepo) ListForPair(_ context.Context, userID, medicineID uuid.UUID) ([]*schedule.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*schedule.Schedule
	for _, s := range r.schedules {
		if s.UserID == userID && s.MedicineID == medicineID {
			out = append(out, clone(s))
		}
	}
	return out, nil
}

// ListOverlapping returns the user's schedules intersecting [from, to]. A
// zero end date means open-ended.
func (r *ScheduleRepo) ListOverlapping(_ context.Context, userID uuid.UUID, medicineID *uuid.UUID, from, to time.Time) ([]*schedule.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*schedule.Schedule
	for _, s := range r.schedules {
		if s.UserID != userID {
			continue
		}
		if medicineID != nil && s.MedicineID != *medicineID {
			continue
		}
		if s.StartDate.After(to) {
			continue
		}
		if !s.EndDate.IsZero() && s.EndDate.Before(from) {
			continue
		}
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

// Update writes the schedule conditionally on the version it was read at.
func (r *ScheduleRepo) Update(_ context.Context, s *schedule.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(s)
}

func (r *ScheduleRepo) updateLocked(s *schedule.Schedule) error {
	current, ok := r.schedules[s.ID]
	if !ok {
		return schedule.ErrNotFound
	}
	if current.Version != s.Version {
		return schedule.ErrVersionConflict
	}
	s.Version++
	r.drain(s)
	r.schedules[s.ID] = clone(s)
	return nil
}

// Delete removes the schedule and drains its deletion event.
func (r *ScheduleRepo) Delete(_ context.Context, s *schedule.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[s.ID]; !ok {
		return schedule.ErrNotFound
	}
	r.drain(s)
	delete(r.schedules, s.ID)
	return nil
}

// ApplyDoseTransition persists the dose change and the optional stock
// decrement all-or-nothing: a failed decrement leaves the ledger untouched,
// and a version conflict restores the decremented unit.
func (r *ScheduleRepo) ApplyDoseTransition(_ context.Context, s *schedule.Schedule, decrementMedicine *uuid.UUID) error {
	if decrementMedicine != nil {
		if err := r.medicines.decrement(*decrementMedicine); err != nil {
			return err
		}
	}

	r.mu.Lock()
	err := r.updateLocked(s)
	r.mu.Unlock()

	if err != nil && decrementMedicine != nil {
		r.medicines.restore(*decrementMedicine)
	}
	return err
}
