package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dosetrack/go-mat/internal/domain/medicine"
	"github.com/dosetrack/go-mat/internal/domain/schedule"
	"github.com/dosetrack/go-mat/internal/infrastructure/memory"
)

var fixedNow = time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	svc   *schedule.Service
	repo  *memory.ScheduleRepo
	meds  *memory.MedicineStore
	med   *medicine.Medicine
	user  uuid.UUID
	clock *time.Time
}

func newFixture(t *testing.T, policy schedule.MissedDosePolicy) *fixture {
	t.Helper()
	meds := memory.NewMedicineStore()
	repo := memory.NewScheduleRepo(meds)

	user := uuid.New()
	med := &medicine.Medicine{
		ID:             uuid.New(),
		OwnerUserID:    &user,
		Name:           "Lisinopril 10mg",
		QuantityOnHand: 200,
	}
	meds.Put(med)

	clock := fixedNow
	f := &fixture{repo: repo, meds: meds, med: med, user: user, clock: &clock}
	f.svc = schedule.NewService(repo, meds, schedule.Config{
		Policy: policy,
		Clock:  func() time.Time { return *f.clock },
	}, nil)
	return f
}

func (f *fixture) create(t *testing.T, start, end time.Time, times []string) *schedule.Schedule {
	t.Helper()
	s, err := f.svc.Create(context.Background(), schedule.CreateParams{
		UserID:            f.user,
		MedicineID:        f.med.ID,
		AllocatedQuantity: schedule.DaysInRange(start, end) * len(times),
		StartDate:         start,
		EndDate:           end,
		TimesOfDay:        times,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func eventTypes(events []*schedule.Event) []schedule.EventType {
	out := make([]schedule.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

func TestServiceCreate(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(14), []string{"08:00 AM", "08:00 PM"})

	if s.Version != 1 {
		t.Errorf("version = %d, want 1", s.Version)
	}
	if s.Status != schedule.StatusActive {
		t.Errorf("status = %q, want ACTIVE", s.Status)
	}
	if len(s.DoseLog) != 5 {
		t.Errorf("ledger days = %d, want 5", len(s.DoseLog))
	}

	events := f.repo.Events()
	if len(events) != 1 || events[0].EventType != schedule.EventScheduleCreated {
		t.Fatalf("published events = %v, want [ScheduleCreated]", eventTypes(events))
	}

	got, err := f.svc.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != s.ID || len(got.DoseLog) != 5 {
		t.Error("round-trip lost state")
	}
}

func TestServiceCreateRejectsOverlap(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	f.create(t, day(10), day(14), []string{"08:00 AM"})

	_, err := f.svc.Create(context.Background(), schedule.CreateParams{
		UserID:            f.user,
		MedicineID:        f.med.ID,
		AllocatedQuantity: 3,
		StartDate:         day(14),
		EndDate:           day(16),
		TimesOfDay:        []string{"08:00 AM"},
	})
	if !errors.Is(err, schedule.ErrScheduleOverlap) {
		t.Fatalf("got %v, want ErrScheduleOverlap", err)
	}
	if len(f.repo.Events()) != 1 {
		t.Error("rejected create still published an event")
	}
}

func TestServiceCreateRejectsEmptyTimes(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	_, err := f.svc.Create(context.Background(), schedule.CreateParams{
		UserID:     f.user,
		MedicineID: f.med.ID,
		StartDate:  day(10),
		EndDate:    day(10),
	})
	if !errors.Is(err, schedule.ErrNoTimesOfDay) {
		t.Fatalf("got %v, want ErrNoTimesOfDay", err)
	}
}

type staticDirectory struct{ known map[uuid.UUID]bool }

func (d *staticDirectory) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	return d.known[id], nil
}

func TestServiceCreateChecksUserDirectory(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	dir := &staticDirectory{known: map[uuid.UUID]bool{f.user: true}}
	svc := schedule.NewService(f.repo, f.meds, schedule.Config{
		Clock: func() time.Time { return fixedNow },
		Users: dir,
	}, nil)

	if _, err := svc.Create(context.Background(), schedule.CreateParams{
		UserID:            f.user,
		MedicineID:        f.med.ID,
		AllocatedQuantity: 1,
		StartDate:         day(10),
		EndDate:           day(10),
		TimesOfDay:        []string{"08:00 AM"},
	}); err != nil {
		t.Fatalf("known user rejected: %v", err)
	}

	_, err := svc.Create(context.Background(), schedule.CreateParams{
		UserID:            uuid.New(),
		MedicineID:        f.med.ID,
		AllocatedQuantity: 1,
		StartDate:         day(11),
		EndDate:           day(11),
		TimesOfDay:        []string{"08:00 AM"},
	})
	if !errors.Is(err, schedule.ErrUserUnknown) {
		t.Fatalf("got %v, want ErrUserUnknown", err)
	}
}

func TestServiceCreateAutomated(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)

	// Under-allocation is legal on the automated path.
	s, err := f.svc.CreateAutomated(context.Background(), schedule.AutomatedParams{
		UserID:            f.user,
		MedicineName:      "lisinopril 10MG", // case-insensitive resolution
		AllocatedQuantity: 3,
		StartDate:         day(10),
		EndDate:           day(19),
		TimesOfDay:        []string{"08:00 AM"},
	})
	if err != nil {
		t.Fatalf("automated create: %v", err)
	}
	if s.MedicineID != f.med.ID {
		t.Error("name resolution picked the wrong medicine")
	}
	if s.AllocatedQuantity != 3 {
		t.Errorf("allocated = %d, want 3", s.AllocatedQuantity)
	}

	_, err = f.svc.CreateAutomated(context.Background(), schedule.AutomatedParams{
		UserID:            f.user,
		MedicineName:      "Amoxicillin",
		AllocatedQuantity: 1,
		StartDate:         day(10),
		EndDate:           day(10),
		TimesOfDay:        []string{"08:00 AM"},
	})
	if !errors.Is(err, medicine.ErrNotFound) {
		t.Fatalf("got %v, want medicine.ErrNotFound", err)
	}
}

func TestServiceList(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	f.create(t, day(10), day(12), []string{"08:00 AM"})

	other := &medicine.Medicine{ID: uuid.New(), Name: "Metformin 500mg", AdminProvided: true}
	f.meds.Put(other)
	if _, err := f.svc.Create(context.Background(), schedule.CreateParams{
		UserID:            f.user,
		MedicineID:        other.ID,
		AllocatedQuantity: 3,
		StartDate:         day(20),
		EndDate:           day(22),
		TimesOfDay:        []string{"09:00 AM"},
	}); err != nil {
		t.Fatal(err)
	}

	scheds, total, err := f.svc.List(context.Background(), f.user, schedule.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(scheds) != 2 {
		t.Fatalf("got %d/%d schedules, want 2/2", len(scheds), total)
	}
	if scheds[0].StartDate.After(scheds[1].StartDate) {
		t.Error("list not ordered by start date")
	}

	scheds, total, err = f.svc.List(context.Background(), f.user, schedule.ListOptions{NameFilter: "metformin"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(scheds) != 1 || scheds[0].MedicineID != other.ID {
		t.Errorf("name filter returned %d/%d", len(scheds), total)
	}
}

func TestServiceListRefreshesStatus(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(12), []string{"08:00 AM"})
	if s.Status != schedule.StatusActive {
		t.Fatalf("precondition: status = %q", s.Status)
	}

	*f.clock = day(20)
	scheds, _, err := f.svc.List(context.Background(), f.user, schedule.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if scheds[0].Status != schedule.StatusEnded {
		t.Errorf("status = %q, want ENDED after clock advance", scheds[0].Status)
	}

	// The refresh persisted, not just decorated the response.
	stored, err := f.repo.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != schedule.StatusEnded {
		t.Errorf("stored status = %q, want ENDED", stored.Status)
	}
	if stored.Version != 2 {
		t.Errorf("stored version = %d, want 2 after refresh write", stored.Version)
	}
}

func TestServiceUpdateNoOp(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(14), []string{"08:00 AM"})

	got, changed, err := f.svc.Update(context.Background(), s.ID, schedule.UpdateParams{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if changed {
		t.Error("empty update reported a change")
	}
	if got.Version != 1 {
		t.Errorf("no-op bumped version to %d", got.Version)
	}

	// Same values re-sent are still a no-op.
	alloc := 5
	start := day(10)
	_, changed, err = f.svc.Update(context.Background(), s.ID, schedule.UpdateParams{
		AllocatedQuantity: &alloc,
		StartDate:         &start,
	})
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("identical values reported a change")
	}
	if n := len(f.repo.Events()); n != 1 {
		t.Errorf("no-op published events: %d total, want 1", n)
	}
}

func TestServiceUpdateRebuildsLedger(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(14), []string{"08:00 AM"})
	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseTaken); err != nil {
		t.Fatal(err)
	}

	end := day(16)
	alloc := 7
	got, changed, err := f.svc.Update(context.Background(), s.ID, schedule.UpdateParams{
		EndDate:           &end,
		AllocatedQuantity: &alloc,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !changed {
		t.Fatal("update reported no change")
	}
	if len(got.DoseLog) != 7 {
		t.Errorf("ledger days = %d, want 7", len(got.DoseLog))
	}
	taken, _ := got.CountDoses()
	if taken != 0 {
		t.Errorf("rebuild preserved %d taken doses", taken)
	}

	events := f.repo.Events()
	last := events[len(events)-1]
	if last.EventType != schedule.EventScheduleUpdated {
		t.Fatalf("last event = %q, want ScheduleUpdated", last.EventType)
	}
}

func TestServiceUpdateQuantityOnlyKeepsLedger(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(14), []string{"08:00 AM"})
	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseTaken); err != nil {
		t.Fatal(err)
	}

	// Same dates and times but a different allocation must not rebuild;
	// the exact-quantity rule then requires the original 5.
	med2 := &medicine.Medicine{ID: uuid.New(), Name: "Generic", AdminProvided: true}
	f.meds.Put(med2)
	got, changed, err := f.svc.Update(context.Background(), s.ID, schedule.UpdateParams{
		MedicineID: &med2.ID,
	})
	if err != nil {
		t.Fatalf("medicine swap: %v", err)
	}
	if !changed {
		t.Fatal("medicine swap reported no change")
	}
	taken, _ := got.CountDoses()
	if taken != 1 {
		t.Errorf("unchanged dates rebuilt the ledger: taken = %d, want 1", taken)
	}
}

func TestServiceUpdateTimesMismatch(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(14), []string{"08:00 AM"})

	three := 3
	var mismatch *schedule.TimesMismatchError
	_, _, err := f.svc.Update(context.Background(), s.ID, schedule.UpdateParams{DosesPerDay: &three})
	if !errors.As(err, &mismatch) {
		t.Fatalf("count without times: got %v, want TimesMismatchError", err)
	}

	_, _, err = f.svc.Update(context.Background(), s.ID, schedule.UpdateParams{
		DosesPerDay: &three,
		TimesOfDay:  []string{"08:00 AM", "08:00 PM"},
	})
	if !errors.As(err, &mismatch) {
		t.Fatalf("count/times length mismatch: got %v, want TimesMismatchError", err)
	}
}

func TestServiceUpdateValidatesEffectiveState(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	f.create(t, day(20), day(22), []string{"08:00 AM"})
	s := f.create(t, day(10), day(12), []string{"08:00 AM"})

	// Extending into the sibling's range must be rejected.
	end := day(20)
	alloc := 11
	_, _, err := f.svc.Update(context.Background(), s.ID, schedule.UpdateParams{
		EndDate:           &end,
		AllocatedQuantity: &alloc,
	})
	if !errors.Is(err, schedule.ErrScheduleOverlap) {
		t.Fatalf("got %v, want ErrScheduleOverlap", err)
	}

	// Extending without adjusting the allocation breaks exact quantity.
	end = day(15)
	var short *schedule.InsufficientQuantityError
	_, _, err = f.svc.Update(context.Background(), s.ID, schedule.UpdateParams{EndDate: &end})
	if !errors.As(err, &short) {
		t.Fatalf("got %v, want InsufficientQuantityError", err)
	}
}

func TestServiceUpdateNotFound(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	_, _, err := f.svc.Update(context.Background(), uuid.New(), schedule.UpdateParams{})
	if !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestServiceDelete(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(12), []string{"08:00 AM"})

	if err := f.svc.Delete(context.Background(), s.ID, uuid.New()); !errors.Is(err, schedule.ErrForbidden) {
		t.Fatalf("foreign user delete: got %v, want ErrForbidden", err)
	}
	if err := f.svc.Delete(context.Background(), s.ID, f.user); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), s.ID); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("get after delete: got %v, want ErrNotFound", err)
	}

	events := f.repo.Events()
	last := events[len(events)-1]
	if last.EventType != schedule.EventScheduleDeleted {
		t.Errorf("last event = %q, want ScheduleDeleted", last.EventType)
	}
}

func TestServiceDoseTakenDecrementsStock(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(12), []string{"08:00 AM", "08:00 PM"})

	before := f.med.QuantityOnHand
	got, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseTaken)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got.DoseLog[0].Doses[0].Status != schedule.DoseTaken {
		t.Error("dose not TAKEN")
	}

	med, err := f.meds.GetByID(context.Background(), f.med.ID)
	if err != nil {
		t.Fatal(err)
	}
	if med.QuantityOnHand != before-1 {
		t.Errorf("stock = %d, want %d", med.QuantityOnHand, before-1)
	}

	// A missed dose never decrements.
	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 PM", schedule.DoseMissed); err != nil {
		t.Fatal(err)
	}
	med, _ = f.meds.GetByID(context.Background(), f.med.ID)
	if med.QuantityOnHand != before-1 {
		t.Errorf("missed dose changed stock to %d", med.QuantityOnHand)
	}
}

func TestServiceDoseTakenAdminMedicineKeepsStock(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	admin := &medicine.Medicine{ID: uuid.New(), Name: "Clinic Supply", AdminProvided: true, QuantityOnHand: 1}
	f.meds.Put(admin)

	s, err := f.svc.Create(context.Background(), schedule.CreateParams{
		UserID:            f.user,
		MedicineID:        admin.ID,
		AllocatedQuantity: 1,
		StartDate:         day(10),
		EndDate:           day(10),
		TimesOfDay:        []string{"08:00 AM"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseTaken); err != nil {
		t.Fatal(err)
	}
	med, _ := f.meds.GetByID(context.Background(), admin.ID)
	if med.QuantityOnHand != 1 {
		t.Errorf("admin stock = %d, want untouched 1", med.QuantityOnHand)
	}
}

func TestServiceDoseOutOfStockLeavesPending(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(12), []string{"08:00 AM"})

	// Drain stock behind the engine's back.
	drained := *f.med
	drained.QuantityOnHand = 0
	f.meds.Put(&drained)

	_, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseTaken)
	if !errors.Is(err, medicine.ErrOutOfStock) {
		t.Fatalf("got %v, want medicine.ErrOutOfStock", err)
	}

	stored, err := f.svc.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.DoseLog[0].Doses[0].Status != schedule.DosePending {
		t.Errorf("dose = %q after failed take, want PENDING", stored.DoseLog[0].Doses[0].Status)
	}

	// Marking it MISSED still works with zero stock.
	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseMissed); err != nil {
		t.Fatalf("miss with zero stock: %v", err)
	}
}

func TestServiceDoseTerminalTransitions(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(10), []string{"08:00 AM", "08:00 PM"})

	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseTaken); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseTaken); !errors.Is(err, schedule.ErrDoseAlreadyTaken) {
		t.Errorf("got %v, want ErrDoseAlreadyTaken", err)
	}

	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 PM", schedule.DoseMissed); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 PM", schedule.DoseTaken); !errors.Is(err, schedule.ErrDoseAlreadyMissed) {
		t.Errorf("got %v, want ErrDoseAlreadyMissed", err)
	}
}

func TestServiceDoseLateTakenPolicy(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseAllowLateTaken)
	s := f.create(t, day(10), day(10), []string{"08:00 AM"})

	if _, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseMissed); err != nil {
		t.Fatal(err)
	}
	before := f.med.QuantityOnHand
	got, err := f.svc.UpdateDoseStatus(context.Background(), s.ID, day(10), "08:00 AM", schedule.DoseTaken)
	if err != nil {
		t.Fatalf("late take: %v", err)
	}
	if got.DoseLog[0].Doses[0].Status != schedule.DoseTaken {
		t.Error("late take did not land")
	}
	med, _ := f.meds.GetByID(context.Background(), f.med.ID)
	if med.QuantityOnHand != before-1 {
		t.Errorf("late take stock = %d, want %d", med.QuantityOnHand, before-1)
	}
}

func TestServiceSetReminderSent(t *testing.T) {
	f := newFixture(t, schedule.MissedDoseTerminal)
	s := f.create(t, day(10), day(10), []string{"08:00 AM"})

	if err := f.svc.SetReminderSent(context.Background(), s.ID, day(10), "08:00 AM"); err != nil {
		t.Fatalf("set: %v", err)
	}
	stored, err := f.svc.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.DoseLog[0].Doses[0].ReminderSent {
		t.Error("reminder flag not persisted")
	}
	v := stored.Version

	// Second delivery is a no-op and writes nothing.
	if err := f.svc.SetReminderSent(context.Background(), s.ID, day(10), "08:00 AM"); err != nil {
		t.Fatalf("repeat set: %v", err)
	}
	stored, _ = f.svc.Get(context.Background(), s.ID)
	if stored.Version != v {
		t.Errorf("idempotent resend bumped version %d -> %d", v, stored.Version)
	}

	if err := f.svc.SetReminderSent(context.Background(), s.ID, day(10), "09:00 AM"); !errors.Is(err, schedule.ErrDoseNotFound) {
		t.Errorf("unknown label: got %v, want ErrDoseNotFound", err)
	}
}
