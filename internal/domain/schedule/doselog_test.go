package schedule

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDayIndex(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want int64
	}{
		{"epoch", date(1970, time.January, 1), 0},
		{"epoch next day", date(1970, time.January, 2), 1},
		{"mid-day same index", time.Date(1970, time.January, 2, 23, 59, 59, 0, time.UTC), 1},
		{"pre-epoch day", date(1969, time.December, 31), -1},
		{"pre-epoch mid-day", time.Date(1969, time.December, 31, 12, 0, 0, 0, time.UTC), -1},
		{"far future", date(2026, time.March, 1), 20513},
	}
	for _, tc := range cases {
		if got := DayIndex(tc.in); got != tc.want {
			t.Errorf("%s: DayIndex(%v) = %d, want %d", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestDayIndexIgnoresZone(t *testing.T) {
	// The same instant in a non-UTC zone must land on the same day index.
	zone := time.FixedZone("UTC+5", 5*3600)
	utc := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	local := utc.In(zone)
	if DayIndex(utc) != DayIndex(local) {
		t.Errorf("DayIndex differs across zones: %d vs %d", DayIndex(utc), DayIndex(local))
	}
}

func TestDaysInRange(t *testing.T) {
	cases := []struct {
		name       string
		start, end time.Time
		want       int
	}{
		{"single day", date(2026, time.March, 1), date(2026, time.March, 1), 1},
		{"one week", date(2026, time.March, 1), date(2026, time.March, 7), 7},
		{"across month", date(2026, time.February, 27), date(2026, time.March, 2), 4},
		{"across dst change", date(2026, time.March, 7), date(2026, time.March, 9), 3},
		{"leap february", date(2028, time.February, 1), date(2028, time.February, 29), 29},
		{"inverted", date(2026, time.March, 2), date(2026, time.March, 1), 0},
	}
	for _, tc := range cases {
		if got := DaysInRange(tc.start, tc.end); got != tc.want {
			t.Errorf("%s: DaysInRange = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestUTCDate(t *testing.T) {
	zone := time.FixedZone("UTC-7", -7*3600)
	in := time.Date(2026, time.March, 10, 22, 30, 0, 0, zone)
	got := UTCDate(in)
	want := date(2026, time.March, 11)
	if !got.Equal(want) {
		t.Errorf("UTCDate(%v) = %v, want %v", in, got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("UTCDate location = %v, want UTC", got.Location())
	}
}

func TestBuildDoseLog(t *testing.T) {
	times := []string{"08:00 AM", "01:00 PM", "09:00 PM"}
	start := date(2026, time.March, 1)
	end := date(2026, time.March, 10)

	log := BuildDoseLog(start, end, times)
	if len(log) != 10 {
		t.Fatalf("got %d days, want 10", len(log))
	}
	for i, day := range log {
		wantDate := start.AddDate(0, 0, i)
		if !day.Date.Equal(wantDate) {
			t.Errorf("day %d: date = %v, want %v", i, day.Date, wantDate)
		}
		if len(day.Doses) != len(times) {
			t.Fatalf("day %d: got %d doses, want %d", i, len(day.Doses), len(times))
		}
		for j, dose := range day.Doses {
			if dose.Time != times[j] {
				t.Errorf("day %d dose %d: time = %q, want %q", i, j, dose.Time, times[j])
			}
			if dose.Status != DosePending {
				t.Errorf("day %d dose %d: status = %q, want PENDING", i, j, dose.Status)
			}
			if dose.ReminderSent {
				t.Errorf("day %d dose %d: reminder flag set on fresh ledger", i, j)
			}
		}
	}
}

func TestBuildDoseLogSingleDay(t *testing.T) {
	d := date(2026, time.March, 1)
	log := BuildDoseLog(d, d, []string{"08:00 AM"})
	if len(log) != 1 {
		t.Fatalf("got %d days, want 1", len(log))
	}
	if len(log[0].Doses) != 1 {
		t.Fatalf("got %d doses, want 1", len(log[0].Doses))
	}
}

func TestBuildDoseLogInvertedRange(t *testing.T) {
	log := BuildDoseLog(date(2026, time.March, 2), date(2026, time.March, 1), []string{"08:00 AM"})
	if log != nil {
		t.Fatalf("inverted range produced %d days, want nil", len(log))
	}
}

func TestBuildDoseLogDeterministic(t *testing.T) {
	times := []string{"08:00 AM", "08:00 PM"}
	start, end := date(2026, time.March, 1), date(2026, time.March, 31)
	a := BuildDoseLog(start, end, times)
	b := BuildDoseLog(start, end, times)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Date.Equal(b[i].Date) || len(a[i].Doses) != len(b[i].Doses) {
			t.Fatalf("day %d differs between builds", i)
		}
	}
}
