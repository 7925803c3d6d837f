package schedule

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/internal/domain/medicine"
)

// UserDirectory checks user existence against the external directory.
// Authorization itself is upstream; the engine only refuses schedules for
// users the directory has never seen.
type UserDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Config tunes the engine. Zero values mean: terminal missed doses, wall
// clock, no directory check.
type Config struct {
	Policy MissedDosePolicy
	Clock  func() time.Time
	Users  UserDirectory
}

// Service runs the schedule and dose-adherence operations against a
// repository and the medicine inventory collaborator.
type Service struct {
	schedules Repository
	medicines medicine.Store
	users     UserDirectory
	policy    MissedDosePolicy
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates the engine service.
func NewService(repo Repository, meds medicine.Store, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		schedules: repo,
		medicines: meds,
		users:     cfg.Users,
		policy:    cfg.Policy,
		now:       now,
		logger:    logger,
	}
}

// CreateParams are the inputs for the strict creation path. DosesPerDay is
// derived from the times list.
type CreateParams struct {
	UserID            uuid.UUID
	MedicineID        uuid.UUID
	AllocatedQuantity int
	StartDate         time.Time
	EndDate           time.Time
	TimesOfDay        []string
}

// Create validates and persists a new schedule with its full dose ledger.
// The allocation must exactly equal days-in-range times doses-per-day.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Schedule, error) {
	if len(p.TimesOfDay) == 0 {
		return nil, ErrNoTimesOfDay
	}
	if err := s.checkUser(ctx, p.UserID); err != nil {
		return nil, err
	}

	med, err := s.medicines.GetByID(ctx, p.MedicineID)
	if err != nil {
		return nil, err
	}
	existing, err := s.schedules.ListForPair(ctx, p.UserID, p.MedicineID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	in := ValidationInput{
		StartDate:         p.StartDate,
		EndDate:           p.EndDate,
		DosesPerDay:       len(p.TimesOfDay),
		AllocatedQuantity: p.AllocatedQuantity,
	}
	if err := ValidateCreate(med, existing, in, now); err != nil {
		return nil, err
	}

	sched := New(p.UserID, p.MedicineID, p.AllocatedQuantity, p.StartDate, p.EndDate, p.TimesOfDay, now)
	if err := sched.Record(EventScheduleCreated, createdData(sched, false), now); err != nil {
		return nil, err
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}

	s.logger.Info("schedule created",
		zap.String("schedule_id", sched.ID.String()),
		zap.String("user_id", sched.UserID.String()),
		zap.String("medicine_id", sched.MedicineID.String()),
		zap.Int("doses", sched.AllocatedQuantity),
	)
	return sched, nil
}

// AutomatedParams are the inputs for the machine-driven creation path, keyed
// by medicine name instead of id.
type AutomatedParams struct {
	UserID            uuid.UUID
	MedicineName      string
	AllocatedQuantity int
	StartDate         time.Time
	EndDate           time.Time
	TimesOfDay        []string
}

// CreateAutomated is the relaxed creation entry point for automated callers:
// the exact-quantity invariant is replaced by an upper bound against stock.
// It stays a separate operation so the strict path cannot erode.
func (s *Service) CreateAutomated(ctx context.Context, p AutomatedParams) (*Schedule, error) {
	if len(p.TimesOfDay) == 0 {
		return nil, ErrNoTimesOfDay
	}
	if err := s.checkUser(ctx, p.UserID); err != nil {
		return nil, err
	}

	med, err := s.medicines.GetByName(ctx, p.UserID, p.MedicineName)
	if err != nil {
		return nil, err
	}
	existing, err := s.schedules.ListForPair(ctx, p.UserID, med.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	in := ValidationInput{
		StartDate:         p.StartDate,
		EndDate:           p.EndDate,
		DosesPerDay:       len(p.TimesOfDay),
		AllocatedQuantity: p.AllocatedQuantity,
	}
	if err := ValidateAutomated(med, existing, in, now); err != nil {
		return nil, err
	}

	sched := New(p.UserID, med.ID, p.AllocatedQuantity, p.StartDate, p.EndDate, p.TimesOfDay, now)
	if err := sched.Record(EventScheduleCreated, createdData(sched, true), now); err != nil {
		return nil, err
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}

	s.logger.Info("schedule created by automation",
		zap.String("schedule_id", sched.ID.String()),
		zap.String("medicine", p.MedicineName),
	)
	return sched, nil
}

// Get returns a schedule with its status re-derived for today.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	sched, err := s.schedules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.refreshStatus(ctx, sched)
	return sched, nil
}

// List returns one page of a user's schedules plus the total count. Status is
// lazily refreshed: any schedule whose stored status fell behind today is
// re-derived and persisted as a read side effect.
func (s *Service) List(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]*Schedule, int, error) {
	scheds, total, err := s.schedules.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, 0, err
	}
	for _, sched := range scheds {
		s.refreshStatus(ctx, sched)
	}
	return scheds, total, nil
}

// refreshStatus persists a lazily re-derived status. Best effort: a lost race
// just means another reader refreshed first.
func (s *Service) refreshStatus(ctx context.Context, sched *Schedule) {
	if !sched.RefreshStatus(s.now()) {
		return
	}
	if err := s.schedules.Update(ctx, sched); err != nil && !errors.Is(err, ErrVersionConflict) {
		s.logger.Warn("status refresh failed",
			zap.String("schedule_id", sched.ID.String()),
			zap.Error(err),
		)
	}
}

// UpdateParams carry partial field changes; nil means unchanged. A dose-count
// change must arrive together with a matching times list.
type UpdateParams struct {
	MedicineID        *uuid.UUID
	AllocatedQuantity *int
	StartDate         *time.Time
	EndDate           *time.Time
	DosesPerDay       *int
	TimesOfDay        []string
}

// Update applies a partial edit. Unchanged inputs are a no-op fast path
// (changed=false). Otherwise the effective state is re-validated with the
// schedule excluded from its own overlap check, and the ledger is rebuilt,
// discarding recorded history, only when dates or times actually changed.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*Schedule, bool, error) {
	sched, err := s.schedules.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if (p.DosesPerDay == nil) != (p.TimesOfDay == nil) {
		n, t := sched.DosesPerDay, len(sched.TimesOfDay)
		if p.DosesPerDay != nil {
			n = *p.DosesPerDay
		}
		if p.TimesOfDay != nil {
			t = len(p.TimesOfDay)
		}
		return nil, false, &TimesMismatchError{DosesPerDay: n, Times: t}
	}
	if p.DosesPerDay != nil && len(p.TimesOfDay) != *p.DosesPerDay {
		return nil, false, &TimesMismatchError{DosesPerDay: *p.DosesPerDay, Times: len(p.TimesOfDay)}
	}

	// Effective values: explicit input overrides existing state.
	effMedicine := sched.MedicineID
	if p.MedicineID != nil {
		effMedicine = *p.MedicineID
	}
	effAllocated := sched.AllocatedQuantity
	if p.AllocatedQuantity != nil {
		effAllocated = *p.AllocatedQuantity
	}
	effStart, effEnd := sched.StartDate, sched.EndDate
	if p.StartDate != nil {
		effStart = UTCDate(*p.StartDate)
	}
	if p.EndDate != nil {
		effEnd = UTCDate(*p.EndDate)
	}
	effTimes := sched.TimesOfDay
	if p.TimesOfDay != nil {
		effTimes = p.TimesOfDay
	}
	if len(effTimes) == 0 {
		return nil, false, ErrNoTimesOfDay
	}

	datesChanged := DayIndex(effStart) != DayIndex(sched.StartDate) || DayIndex(effEnd) != DayIndex(sched.EndDate)
	timesChanged := !slices.Equal(effTimes, sched.TimesOfDay)
	changed := datesChanged || timesChanged ||
		effMedicine != sched.MedicineID ||
		effAllocated != sched.AllocatedQuantity
	if !changed {
		return sched, false, nil
	}

	med, err := s.medicines.GetByID(ctx, effMedicine)
	if err != nil {
		return nil, false, err
	}
	existing, err := s.schedules.ListForPair(ctx, sched.UserID, effMedicine)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	in := ValidationInput{
		StartDate:         effStart,
		EndDate:           effEnd,
		DosesPerDay:       len(effTimes),
		AllocatedQuantity: effAllocated,
		ExcludeID:         sched.ID,
	}
	if err := ValidateUpdate(med, existing, in, now); err != nil {
		return nil, false, err
	}

	sched.MedicineID = effMedicine
	sched.AllocatedQuantity = effAllocated
	if datesChanged || timesChanged {
		sched.Rebuild(effStart, effEnd, effTimes, now)
	} else {
		sched.Status = sched.DeriveStatus(now)
		sched.UpdatedAt = now.UTC()
	}

	data := &ScheduleUpdatedData{
		ScheduleID:        sched.ID.String(),
		AllocatedQuantity: sched.AllocatedQuantity,
		StartDate:         sched.StartDate,
		EndDate:           sched.EndDate,
		DosesPerDay:       sched.DosesPerDay,
		TimesOfDay:        sched.TimesOfDay,
		LedgerRebuilt:     datesChanged || timesChanged,
	}
	if err := sched.Record(EventScheduleUpdated, data, now); err != nil {
		return nil, false, err
	}
	if err := s.schedules.Update(ctx, sched); err != nil {
		return nil, false, err
	}

	if data.LedgerRebuilt {
		s.logger.Info("schedule ledger rebuilt",
			zap.String("schedule_id", sched.ID.String()),
			zap.Time("start", sched.StartDate),
			zap.Time("end", sched.EndDate),
		)
	}
	return sched, true, nil
}

// Delete removes a schedule. Only the owning user may delete; no cascade.
func (s *Service) Delete(ctx context.Context, scheduleID, userID uuid.UUID) error {
	sched, err := s.schedules.Get(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sched.UserID != userID {
		return ErrForbidden
	}

	now := s.now()
	data := &ScheduleDeletedData{ScheduleID: sched.ID.String(), UserID: sched.UserID.String()}
	if err := sched.Record(EventScheduleDeleted, data, now); err != nil {
		return err
	}
	return s.schedules.Delete(ctx, sched)
}

// UpdateDoseStatus transitions one dose to TAKEN or MISSED. A taken dose on a
// user-owned medicine decrements stock by exactly one, atomically with the
// ledger write: on OutOfStock or a concurrent-write conflict nothing is
// persisted and the dose stays PENDING.
func (s *Service) UpdateDoseStatus(ctx context.Context, scheduleID uuid.UUID, date time.Time, label string, target DoseStatus) (*Schedule, error) {
	sched, err := s.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	med, err := s.medicines.GetByID(ctx, sched.MedicineID)
	if err != nil {
		return nil, err
	}

	if _, err := sched.MarkDose(date, label, target, s.policy, s.now()); err != nil {
		return nil, err
	}

	var decrement *uuid.UUID
	if target == DoseTaken && med.UserOwned() {
		decrement = &med.ID
	}
	if err := s.schedules.ApplyDoseTransition(ctx, sched, decrement); err != nil {
		return nil, err
	}

	s.logger.Info("dose transitioned",
		zap.String("schedule_id", sched.ID.String()),
		zap.Time("date", UTCDate(date)),
		zap.String("time", label),
		zap.String("status", string(target)),
		zap.Bool("decremented", decrement != nil),
	)
	return sched, nil
}

// SetReminderSent flags one dose entry as reminded on behalf of the external
// dispatcher. Retries a bounded number of times on write conflicts since the
// flag loses to any concurrent dose transition.
func (s *Service) SetReminderSent(ctx context.Context, scheduleID uuid.UUID, date time.Time, label string) error {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		sched, err := s.schedules.Get(ctx, scheduleID)
		if err != nil {
			return err
		}
		changed, err := sched.MarkReminderSent(date, label, s.now())
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := s.schedules.Update(ctx, sched); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

func (s *Service) checkUser(ctx context.Context, userID uuid.UUID) error {
	if s.users == nil {
		return nil
	}
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserUnknown
	}
	return nil
}

func createdData(s *Schedule, automated bool) *ScheduleCreatedData {
	return &ScheduleCreatedData{
		ScheduleID:        s.ID.String(),
		UserID:            s.UserID.String(),
		MedicineID:        s.MedicineID.String(),
		AllocatedQuantity: s.AllocatedQuantity,
		StartDate:         s.StartDate,
		EndDate:           s.EndDate,
		DosesPerDay:       s.DosesPerDay,
		TimesOfDay:        s.TimesOfDay,
		Status:            s.Status,
		Automated:         automated,
	}
}
