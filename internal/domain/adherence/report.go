// Package adherence aggregates dose outcomes into monthly, week-bucketed
// summaries. Read-only: reports never mutate the ledger.
package adherence

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/internal/domain/schedule"
)

// weekBuckets is the fixed number of 7-day windows per month: days 1-7, 8-14,
// 15-21, 22-28, 29-end. Buckets are anchored to the 1st, never to weekday
// boundaries.
const weekBuckets = 5

// takenEquivalent is the set of statuses counted as taken. COMPLETED and DONE
// guard against enum drift in ledgers written by older services.
var takenEquivalent = map[string]bool{
	"TAKEN":     true,
	"COMPLETED": true,
	"DONE":      true,
}

// WeekSummary is the adherence tally for one 7-day bucket.
type WeekSummary struct {
	Week             int       `json:"week"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	Taken            int       `json:"taken"`
	Total            int       `json:"total"`
	AdherencePercent int       `json:"adherence_percent"`
}

// Overview is the whole-month tally.
type Overview struct {
	TotalTaken       int `json:"total_taken"`
	TotalDoses       int `json:"total_doses"`
	AdherencePercent int `json:"adherence_percent"`
}

// Report is the monthly adherence summary for one user.
type Report struct {
	Month     string        `json:"month"`
	Year      int           `json:"year"`
	StartDate time.Time     `json:"start_date"`
	EndDate   time.Time     `json:"end_date"`
	Weeks     []WeekSummary `json:"weeks"`
	Overview  Overview      `json:"overview"`
}

// MonthRange returns the first and last day of a month, UTC midnight-aligned.
func MonthRange(year int, month time.Month) (start, end time.Time) {
	start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	return start, end
}

// Build computes the report from a set of schedules. Ledger days outside the
// month are ignored; PENDING entries count toward totals so unresolved doses
// drag the percentage down. Pure; suitable for property tests.
func Build(schedules []*schedule.Schedule, year int, month time.Month) *Report {
	monthStart, monthEnd := MonthRange(year, month)
	lastDay := monthEnd.Day()

	weeks := make([]WeekSummary, weekBuckets)
	for w := 0; w < weekBuckets; w++ {
		// Nominal window [w*7+1, min((w+1)*7, lastDay)]. In months shorter
		// than 29 days the last bucket is empty and its start date
		// normalizes past the month end, which keeps the window honest
		// instead of relabeling it onto the final day.
		startDay := w*7 + 1
		endDay := min((w+1)*7, lastDay)
		weeks[w] = WeekSummary{
			Week:      w + 1,
			StartDate: time.Date(year, month, startDay, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(year, month, endDay, 0, 0, 0, 0, time.UTC),
		}
	}

	for _, s := range schedules {
		for _, day := range s.DoseLog {
			d := schedule.UTCDate(day.Date)
			if d.Before(monthStart) || d.After(monthEnd) {
				continue
			}
			bucket := (d.Day() - 1) / 7
			if bucket >= weekBuckets {
				bucket = weekBuckets - 1
			}
			for _, dose := range day.Doses {
				weeks[bucket].Total++
				if takenEquivalent[string(dose.Status)] {
					weeks[bucket].Taken++
				}
			}
		}
	}

	var overview Overview
	for w := range weeks {
		weeks[w].AdherencePercent = percent(weeks[w].Taken, weeks[w].Total)
		overview.TotalTaken += weeks[w].Taken
		overview.TotalDoses += weeks[w].Total
	}
	overview.AdherencePercent = percent(overview.TotalTaken, overview.TotalDoses)

	return &Report{
		Month:     month.String(),
		Year:      year,
		StartDate: monthStart,
		EndDate:   monthEnd,
		Weeks:     weeks,
		Overview:  overview,
	}
}

func percent(taken, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(taken) / float64(total) * 100))
}

// ScheduleSource lists the schedules a report draws from.
type ScheduleSource interface {
	ListOverlapping(ctx context.Context, userID uuid.UUID, medicineID *uuid.UUID, from, to time.Time) ([]*schedule.Schedule, error)
}

// Reporter serves monthly reports from a schedule source.
type Reporter struct {
	source ScheduleSource
	logger *zap.Logger
}

// NewReporter creates a reporter.
func NewReporter(source ScheduleSource, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{source: source, logger: logger}
}

// Monthly builds the adherence report for a user and month, optionally
// filtered to a single medicine. Open-ended schedules (zero end date) count
// as overlapping whenever they start on or before the month's end.
func (r *Reporter) Monthly(ctx context.Context, userID uuid.UUID, year int, month time.Month, medicineID *uuid.UUID) (*Report, error) {
	monthStart, monthEnd := MonthRange(year, month)
	schedules, err := r.source.ListOverlapping(ctx, userID, medicineID, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}

	report := Build(schedules, year, month)
	r.logger.Debug("monthly report built",
		zap.String("user_id", userID.String()),
		zap.Int("year", year),
		zap.String("month", month.String()),
		zap.Int("schedules", len(schedules)),
		zap.Int("total_doses", report.Overview.TotalDoses),
	)
	return report, nil
}
