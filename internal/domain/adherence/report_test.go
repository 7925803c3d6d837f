package adherence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dosetrack/go-mat/internal/domain/schedule"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ledgerSchedule builds a schedule whose ledger covers [start, end] with the
// given per-day statuses applied in order, cycling per day.
func ledgerSchedule(start, end time.Time, times []string) *schedule.Schedule {
	return &schedule.Schedule{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		MedicineID: uuid.New(),
		StartDate:  start,
		EndDate:    end,
		TimesOfDay: times,
		DoseLog:    schedule.BuildDoseLog(start, end, times),
	}
}

func setStatus(s *schedule.Schedule, day int, doseIdx int, status schedule.DoseStatus) {
	for i := range s.DoseLog {
		if s.DoseLog[i].Date.Day() == day {
			s.DoseLog[i].Doses[doseIdx].Status = status
			return
		}
	}
}

func TestMonthRange(t *testing.T) {
	cases := []struct {
		year  int
		month time.Month
		last  int
	}{
		{2026, time.March, 31},
		{2026, time.April, 30},
		{2026, time.February, 28},
		{2028, time.February, 29},
	}
	for _, tc := range cases {
		start, end := MonthRange(tc.year, tc.month)
		if start.Day() != 1 {
			t.Errorf("%v %d: start day = %d", tc.month, tc.year, start.Day())
		}
		if end.Day() != tc.last {
			t.Errorf("%v %d: end day = %d, want %d", tc.month, tc.year, end.Day(), tc.last)
		}
	}
}

func TestBuildWeekBuckets(t *testing.T) {
	report := Build(nil, 2026, time.March)

	if len(report.Weeks) != 5 {
		t.Fatalf("got %d week buckets, want 5", len(report.Weeks))
	}
	wantRanges := [][2]int{{1, 7}, {8, 14}, {15, 21}, {22, 28}, {29, 31}}
	for i, w := range report.Weeks {
		if w.Week != i+1 {
			t.Errorf("bucket %d: week number = %d", i, w.Week)
		}
		if w.StartDate.Day() != wantRanges[i][0] || w.EndDate.Day() != wantRanges[i][1] {
			t.Errorf("bucket %d: range %d-%d, want %d-%d",
				i, w.StartDate.Day(), w.EndDate.Day(), wantRanges[i][0], wantRanges[i][1])
		}
	}
	if report.Overview.TotalDoses != 0 || report.Overview.AdherencePercent != 0 {
		t.Errorf("empty month overview = %+v, want zeros", report.Overview)
	}
}

func TestBuildWeekBucketsShortMonth(t *testing.T) {
	// February 2026 has 28 days: the fifth bucket keeps its nominal day-29
	// window, whose start normalizes past the month end, and stays empty.
	report := Build(nil, 2026, time.February)
	w5 := report.Weeks[4]
	if !w5.EndDate.Equal(date(2026, time.February, 28)) {
		t.Errorf("week 5 end = %v, want Feb 28", w5.EndDate)
	}
	if !w5.StartDate.Equal(date(2026, time.March, 1)) {
		t.Errorf("week 5 start = %v, want nominal day 29 (normalized Mar 1)", w5.StartDate)
	}
	if !w5.StartDate.After(w5.EndDate) {
		t.Error("empty bucket should have start after end")
	}
	if w5.Total != 0 || w5.Taken != 0 || w5.AdherencePercent != 0 {
		t.Errorf("week 5 tallies = %+v, want zeros", w5)
	}

	// A leap February reaches day 29 and the bucket is real.
	report = Build(nil, 2028, time.February)
	w5 = report.Weeks[4]
	if w5.StartDate.Day() != 29 || w5.EndDate.Day() != 29 {
		t.Errorf("leap week 5 = %d-%d, want 29-29", w5.StartDate.Day(), w5.EndDate.Day())
	}
}

func TestBuildBucketAssignment(t *testing.T) {
	s := ledgerSchedule(date(2026, time.March, 1), date(2026, time.March, 31), []string{"08:00 AM"})
	// One taken dose in each bucket's first day; day 31 lands in bucket 5.
	for _, d := range []int{1, 8, 15, 22, 29, 31} {
		setStatus(s, d, 0, schedule.DoseTaken)
	}

	report := Build([]*schedule.Schedule{s}, 2026, time.March)
	wantTaken := []int{1, 1, 1, 1, 2}
	wantTotal := []int{7, 7, 7, 7, 3}
	for i, w := range report.Weeks {
		if w.Taken != wantTaken[i] || w.Total != wantTotal[i] {
			t.Errorf("bucket %d: %d/%d, want %d/%d", i+1, w.Taken, w.Total, wantTaken[i], wantTotal[i])
		}
	}
	if report.Overview.TotalTaken != 6 || report.Overview.TotalDoses != 31 {
		t.Errorf("overview = %+v, want 6/31", report.Overview)
	}
}

func TestBuildPendingCountsTowardTotal(t *testing.T) {
	s := ledgerSchedule(date(2026, time.March, 1), date(2026, time.March, 7), []string{"08:00 AM", "08:00 PM"})
	setStatus(s, 1, 0, schedule.DoseTaken)
	setStatus(s, 1, 1, schedule.DoseMissed)
	// Days 2-7 remain PENDING and still count.

	report := Build([]*schedule.Schedule{s}, 2026, time.March)
	w := report.Weeks[0]
	if w.Total != 14 {
		t.Errorf("total = %d, want 14 including PENDING", w.Total)
	}
	if w.Taken != 1 {
		t.Errorf("taken = %d, want 1", w.Taken)
	}
	if w.AdherencePercent != 7 { // 1/14 rounds to 7
		t.Errorf("percent = %d, want 7", w.AdherencePercent)
	}
}

func TestBuildTakenEquivalentStatuses(t *testing.T) {
	s := ledgerSchedule(date(2026, time.March, 1), date(2026, time.March, 4), []string{"08:00 AM"})
	setStatus(s, 1, 0, schedule.DoseTaken)
	setStatus(s, 2, 0, schedule.DoseStatus("COMPLETED"))
	setStatus(s, 3, 0, schedule.DoseStatus("DONE"))
	setStatus(s, 4, 0, schedule.DoseMissed)

	report := Build([]*schedule.Schedule{s}, 2026, time.March)
	if report.Overview.TotalTaken != 3 {
		t.Errorf("taken = %d, want 3 (TAKEN, COMPLETED, DONE)", report.Overview.TotalTaken)
	}
	if report.Overview.AdherencePercent != 75 {
		t.Errorf("percent = %d, want 75", report.Overview.AdherencePercent)
	}
}

func TestBuildIgnoresDaysOutsideMonth(t *testing.T) {
	// Ledger straddles February and March; only March days count.
	s := ledgerSchedule(date(2026, time.February, 26), date(2026, time.March, 3), []string{"08:00 AM"})
	for i := range s.DoseLog {
		s.DoseLog[i].Doses[0].Status = schedule.DoseTaken
	}

	report := Build([]*schedule.Schedule{s}, 2026, time.March)
	if report.Overview.TotalDoses != 3 {
		t.Errorf("total = %d, want 3 (March 1-3 only)", report.Overview.TotalDoses)
	}
	if report.Overview.TotalTaken != 3 {
		t.Errorf("taken = %d, want 3", report.Overview.TotalTaken)
	}
}

func TestBuildPercentRounding(t *testing.T) {
	cases := []struct {
		taken, total, want int
	}{
		{0, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{1, 7, 14},
		{6, 7, 86},
	}
	for _, tc := range cases {
		if got := percent(tc.taken, tc.total); got != tc.want {
			t.Errorf("percent(%d, %d) = %d, want %d", tc.taken, tc.total, got, tc.want)
		}
	}
}

func TestBuildAggregatesAcrossSchedules(t *testing.T) {
	a := ledgerSchedule(date(2026, time.March, 1), date(2026, time.March, 2), []string{"08:00 AM"})
	b := ledgerSchedule(date(2026, time.March, 1), date(2026, time.March, 2), []string{"09:00 AM"})
	setStatus(a, 1, 0, schedule.DoseTaken)
	setStatus(b, 1, 0, schedule.DoseTaken)
	setStatus(b, 2, 0, schedule.DoseTaken)

	report := Build([]*schedule.Schedule{a, b}, 2026, time.March)
	if report.Overview.TotalTaken != 3 || report.Overview.TotalDoses != 4 {
		t.Errorf("overview = %+v, want 3/4", report.Overview)
	}
	if report.Overview.AdherencePercent != 75 {
		t.Errorf("percent = %d, want 75", report.Overview.AdherencePercent)
	}
}

type stubSource struct {
	schedules []*schedule.Schedule
	gotUser   uuid.UUID
	gotMed    *uuid.UUID
	gotFrom   time.Time
	gotTo     time.Time
}

func (s *stubSource) ListOverlapping(_ context.Context, userID uuid.UUID, medicineID *uuid.UUID, from, to time.Time) ([]*schedule.Schedule, error) {
	s.gotUser, s.gotMed, s.gotFrom, s.gotTo = userID, medicineID, from, to
	return s.schedules, nil
}

func TestReporterMonthly(t *testing.T) {
	s := ledgerSchedule(date(2026, time.March, 1), date(2026, time.March, 7), []string{"08:00 AM"})
	setStatus(s, 1, 0, schedule.DoseTaken)
	source := &stubSource{schedules: []*schedule.Schedule{s}}

	userID := uuid.New()
	medID := uuid.New()
	r := NewReporter(source, nil)
	report, err := r.Monthly(context.Background(), userID, 2026, time.March, &medID)
	if err != nil {
		t.Fatalf("Monthly: %v", err)
	}

	if source.gotUser != userID {
		t.Error("user id not passed to source")
	}
	if source.gotMed == nil || *source.gotMed != medID {
		t.Error("medicine filter not passed to source")
	}
	if source.gotFrom.Day() != 1 || source.gotTo.Day() != 31 {
		t.Errorf("query window %v - %v, want whole March", source.gotFrom, source.gotTo)
	}
	if report.Month != "March" || report.Year != 2026 {
		t.Errorf("report header = %s %d", report.Month, report.Year)
	}
	if report.Overview.TotalTaken != 1 || report.Overview.TotalDoses != 7 {
		t.Errorf("overview = %+v, want 1/7", report.Overview)
	}
}
