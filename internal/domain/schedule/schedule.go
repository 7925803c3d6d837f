package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Status is the derived lifecycle state of a schedule relative to today.
type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusActive   Status = "ACTIVE"
	StatusEnded    Status = "ENDED"
)

// MissedDosePolicy decides whether a MISSED dose may still be taken late.
// The default forecloses late recording; product has not settled the
// question, so the rule is a policy rather than a hardcoded guard.
type MissedDosePolicy int

const (
	// MissedDoseTerminal rejects every transition out of MISSED.
	MissedDoseTerminal MissedDosePolicy = iota
	// MissedDoseAllowLateTaken permits MISSED -> TAKEN.
	MissedDoseAllowLateTaken
)

// Schedule is the dosing-schedule aggregate: the medicine allocation for a
// date range plus the per-day, per-time dose ledger. Version backs optimistic
// locking; every persisted write is conditional on the version it read.
type Schedule struct {
	ID                uuid.UUID      `json:"id"`
	UserID            uuid.UUID      `json:"user_id"`
	MedicineID        uuid.UUID      `json:"medicine_id"`
	AllocatedQuantity int            `json:"allocated_quantity"`
	StartDate         time.Time      `json:"start_date"`
	EndDate           time.Time      `json:"end_date"`
	DosesPerDay       int            `json:"doses_per_day"`
	TimesOfDay        []string       `json:"times_of_day"`
	Status            Status         `json:"status"`
	DoseLog           []DailyDoseLog `json:"dose_log"`
	Version           int            `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`

	changes []*Event
}

// New builds a schedule with a freshly generated ledger and derived initial
// status. Validation happens before this; New assumes its inputs passed.
func New(userID, medicineID uuid.UUID, allocated int, start, end time.Time, timesOfDay []string, now time.Time) *Schedule {
	s := &Schedule{
		ID:                uuid.New(),
		UserID:            userID,
		MedicineID:        medicineID,
		AllocatedQuantity: allocated,
		StartDate:         UTCDate(start),
		EndDate:           UTCDate(end),
		DosesPerDay:       len(timesOfDay),
		TimesOfDay:        append([]string(nil), timesOfDay...),
		DoseLog:           BuildDoseLog(start, end, timesOfDay),
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
	s.Status = s.DeriveStatus(now)
	return s
}

// Changes returns uncommitted domain events.
func (s *Schedule) Changes() []*Event { return s.changes }

// ClearChanges drops uncommitted events after a successful persist.
func (s *Schedule) ClearChanges() { s.changes = nil }

// Record appends a domain event, tagging it with routing metadata.
func (s *Schedule) Record(eventType EventType, data interface{}, at time.Time) error {
	event, err := NewEvent(s.ID.String(), eventType, data, at)
	if err != nil {
		return err
	}
	event.WithRouting(s.UserID, s.MedicineID)
	s.changes = append(s.changes, event)
	return nil
}

// DeriveStatus computes the lifecycle state from today's position in the
// schedule's range.
func (s *Schedule) DeriveStatus(now time.Time) Status {
	today := DayIndex(now)
	switch {
	case today < DayIndex(s.StartDate):
		return StatusInactive
	case today > DayIndex(s.EndDate):
		return StatusEnded
	default:
		return StatusActive
	}
}

// RefreshStatus re-derives the status and reports whether it changed. Reads
// call this lazily; no background job advances schedules.
func (s *Schedule) RefreshStatus(now time.Time) bool {
	derived := s.DeriveStatus(now)
	if derived == s.Status {
		return false
	}
	s.Status = derived
	return true
}

// dayLog finds the ledger entry for a calendar date.
func (s *Schedule) dayLog(date time.Time) *DailyDoseLog {
	idx := DayIndex(date)
	for i := range s.DoseLog {
		if DayIndex(s.DoseLog[i].Date) == idx {
			return &s.DoseLog[i]
		}
	}
	return nil
}

// findDose locates the dose entry for a date and time label.
func (s *Schedule) findDose(date time.Time, label string) (*DoseEntry, error) {
	day := s.dayLog(date)
	if day == nil {
		return nil, ErrDoseLogNotFound
	}
	for i := range day.Doses {
		if day.Doses[i].Time == label {
			return &day.Doses[i], nil
		}
	}
	return nil, ErrDoseNotFound
}

// MarkDose transitions the dose at (date, label) to TAKEN or MISSED. Legal
// transitions are PENDING->TAKEN and PENDING->MISSED; both targets are
// terminal unless the policy admits a late take. The mutation is in-memory
// only; persisting it (together with any stock decrement) is the repository's
// transaction.
func (s *Schedule) MarkDose(date time.Time, label string, target DoseStatus, policy MissedDosePolicy, now time.Time) (*DoseEntry, error) {
	if target != DoseTaken && target != DoseMissed {
		return nil, ErrInvalidDoseStatus
	}

	entry, err := s.findDose(date, label)
	if err != nil {
		return nil, err
	}

	switch entry.Status {
	case DoseTaken:
		return nil, ErrDoseAlreadyTaken
	case DoseMissed:
		if !(policy == MissedDoseAllowLateTaken && target == DoseTaken) {
			return nil, ErrDoseAlreadyMissed
		}
	}

	entry.Status = target
	s.UpdatedAt = now.UTC()

	eventType := EventDoseTaken
	if target == DoseMissed {
		eventType = EventDoseMissed
	}
	data := &DoseTransitionData{
		ScheduleID: s.ID.String(),
		MedicineID: s.MedicineID.String(),
		Date:       UTCDate(date),
		Time:       label,
		Status:     target,
		At:         now.UTC(),
	}
	if err := s.Record(eventType, data, now.UTC()); err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkReminderSent flags the dose at (date, label) as reminded and reports
// whether the flag changed. Idempotent; the flag never reverts.
func (s *Schedule) MarkReminderSent(date time.Time, label string, now time.Time) (bool, error) {
	entry, err := s.findDose(date, label)
	if err != nil {
		return false, err
	}
	if entry.ReminderSent {
		return false, nil
	}
	entry.ReminderSent = true
	s.UpdatedAt = now.UTC()
	return true, nil
}

// Rebuild replaces the entire dose ledger for new dates and times. Recorded
// TAKEN/MISSED history is discarded wholesale; partial preservation across a
// reschedule is deliberately not attempted.
func (s *Schedule) Rebuild(start, end time.Time, timesOfDay []string, now time.Time) {
	s.StartDate = UTCDate(start)
	s.EndDate = UTCDate(end)
	s.TimesOfDay = append([]string(nil), timesOfDay...)
	s.DosesPerDay = len(timesOfDay)
	s.DoseLog = BuildDoseLog(start, end, timesOfDay)
	s.Status = s.DeriveStatus(now)
	s.UpdatedAt = now.UTC()
}

// CountDoses returns the taken and total dose counts across the whole ledger.
func (s *Schedule) CountDoses() (taken, total int) {
	for _, day := range s.DoseLog {
		for _, d := range day.Doses {
			total++
			if d.Status == DoseTaken {
				taken++
			}
		}
	}
	return taken, total
}
