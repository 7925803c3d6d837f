package schedule

import "time"

// DoseStatus is the state of a single scheduled intake.
type DoseStatus string

const (
	DosePending DoseStatus = "PENDING"
	DoseTaken   DoseStatus = "TAKEN"
	DoseMissed  DoseStatus = "MISSED"
)

// DoseEntry is one scheduled intake at a wall-clock time on one day. Time is
// an opaque display label ("08:00 AM"); the engine only matches it verbatim.
// ReminderSent is written by the external reminder dispatcher via the
// reminder-sync service and is never cleared by the engine.
type DoseEntry struct {
	Time         string     `json:"time"`
	Status       DoseStatus `json:"status"`
	ReminderSent bool       `json:"is_reminder_sent"`
}

// DailyDoseLog is the dose ledger for one calendar day. Date is UTC
// midnight-aligned. Doses preserve the order of the configured times list.
type DailyDoseLog struct {
	Date  time.Time   `json:"date"`
	Doses []DoseEntry `json:"doses"`
}

// Day arithmetic works in whole UTC days from the Unix epoch. Millisecond or
// calendar-library arithmetic across DST boundaries can drop or double a day;
// integer day indexes cannot.

// DayIndex returns the number of whole UTC days since the Unix epoch.
func DayIndex(t time.Time) int64 {
	sec := t.Unix()
	if sec < 0 && sec%86400 != 0 {
		return sec/86400 - 1
	}
	return sec / 86400
}

// UTCDate truncates t to UTC midnight.
func UTCDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysInRange counts calendar days from start to end inclusive.
func DaysInRange(start, end time.Time) int {
	return int(DayIndex(end)-DayIndex(start)) + 1
}

// BuildDoseLog generates the per-day, per-time ledger for [start, end]
// inclusive: one DailyDoseLog per calendar day, one PENDING entry per
// configured time. Pure and deterministic; identical inputs always produce an
// identical ledger shape.
func BuildDoseLog(start, end time.Time, timesOfDay []string) []DailyDoseLog {
	startDay := UTCDate(start)
	days := DaysInRange(start, end)
	if days <= 0 {
		return nil
	}

	log := make([]DailyDoseLog, 0, days)
	for d := 0; d < days; d++ {
		doses := make([]DoseEntry, 0, len(timesOfDay))
		for _, label := range timesOfDay {
			doses = append(doses, DoseEntry{Time: label, Status: DosePending})
		}
		log = append(log, DailyDoseLog{
			Date:  startDay.AddDate(0, 0, d),
			Doses: doses,
		})
	}
	return log
}
