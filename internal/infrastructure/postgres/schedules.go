package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dosetrack/go-mat/internal/domain/medicine"
	"github.com/dosetrack/go-mat/internal/domain/schedule"
	"github.com/dosetrack/go-mat/internal/infrastructure/redpanda"
)

// ScheduleRepo persists schedules with optimistic locking: every write is
// conditional on the version the aggregate was read at, and bumps it. Dose
// transitions, stock decrements, and outbox entries share one transaction.
type ScheduleRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewScheduleRepo creates a schedule repository.
func NewScheduleRepo(pool *pgxpool.Pool, logger *zap.Logger) *ScheduleRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleRepo{pool: pool, logger: logger}
}

const scheduleColumns = `
	id, user_id, medicine_id, allocated_quantity, start_date, end_date,
	doses_per_day, times_of_day, status, dose_log, version, created_at, updated_at`

func scanSchedule(row pgx.Row) (*schedule.Schedule, error) {
	s := &schedule.Schedule{}
	var timesRaw, logRaw []byte
	err := row.Scan(
		&s.ID, &s.UserID, &s.MedicineID, &s.AllocatedQuantity,
		&s.StartDate, &s.EndDate, &s.DosesPerDay, &timesRaw,
		&s.Status, &logRaw, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	if err := json.Unmarshal(timesRaw, &s.TimesOfDay); err != nil {
		return nil, fmt.Errorf("decode times of day: %w", err)
	}
	if err := json.Unmarshal(logRaw, &s.DoseLog); err != nil {
		return nil, fmt.Errorf("decode dose log: %w", err)
	}
	// Date columns come back at UTC midnight already; normalize defensively.
	s.StartDate = schedule.UTCDate(s.StartDate)
	s.EndDate = schedule.UTCDate(s.EndDate)
	return s, nil
}

// topicFor routes an event to its bus topic.
func topicFor(t schedule.EventType) string {
	switch t {
	case schedule.EventDoseTaken, schedule.EventDoseMissed:
		return redpanda.TopicDoseEvents
	default:
		return redpanda.TopicScheduleEvents
	}
}

// drainChanges writes the aggregate's uncommitted events to the outbox within
// the caller's transaction, then clears them.
func drainChanges(ctx context.Context, tx pgx.Tx, s *schedule.Schedule) error {
	for _, event := range s.Changes() {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		entry := &OutboxEntry{
			AggregateID: event.AggregateID,
			EventType:   string(event.EventType),
			Payload:     payload,
			Topic:       topicFor(event.EventType),
			Key:         event.AggregateID,
		}
		if err := writeEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	s.ClearChanges()
	return nil
}

// Create inserts a new schedule at version 1.
func (r *ScheduleRepo) Create(ctx context.Context, s *schedule.Schedule) error {
	timesRaw, err := json.Marshal(s.TimesOfDay)
	if err != nil {
		return fmt.Errorf("encode times of day: %w", err)
	}
	logRaw, err := json.Marshal(s.DoseLog)
	if err != nil {
		return fmt.Errorf("encode dose log: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s.Version = 1
	query := `
		INSERT INTO schedules
			(id, user_id, medicine_id, allocated_quantity, start_date, end_date,
			 doses_per_day, times_of_day, status, dose_log, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.Exec(ctx, query,
		s.ID, s.UserID, s.MedicineID, s.AllocatedQuantity, s.StartDate, s.EndDate,
		s.DosesPerDay, timesRaw, s.Status, logRaw, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}

	if err := drainChanges(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns one schedule by id.
func (r *ScheduleRepo) Get(ctx context.Context, id uuid.UUID) (*schedule.Schedule, error) {
	query := `SELECT` + scheduleColumns + ` FROM schedules WHERE id = $1`
	return scanSchedule(r.pool.QueryRow(ctx, query, id))
}

// ListByUser pages through a user's schedules ordered by start date, joining
// medicines for the optional name-substring filter.
func (r *ScheduleRepo) ListByUser(ctx context.Context, userID uuid.UUID, opts schedule.ListOptions) ([]*schedule.Schedule, int, error) {
	where := `WHERE s.user_id = $1`
	args := []interface{}{userID}
	if opts.NameFilter != "" {
		where += ` AND m.name ILIKE '%' || $2 || '%'`
		args = append(args, opts.NameFilter)
	}

	countQuery := `
		SELECT COUNT(*)
		FROM schedules s
		JOIN medicines m ON m.id = s.medicine_id ` + where
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	listQuery := fmt.Sprintf(`
		SELECT s.id, s.user_id, s.medicine_id, s.allocated_quantity, s.start_date, s.end_date,
		       s.doses_per_day, s.times_of_day, s.status, s.dose_log, s.version, s.created_at, s.updated_at
		FROM schedules s
		JOIN medicines m ON m.id = s.medicine_id
		%s
		ORDER BY s.start_date ASC, s.id ASC
		LIMIT %d OFFSET %d`, where, opts.Limit(), opts.Offset())

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// ListForPair returns every schedule for a user+medicine pair.
func (r *ScheduleRepo) ListForPair(ctx context.Context, userID, medicineID uuid.UUID) ([]*schedule.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM schedules
		WHERE user_id = $1 AND medicine_id = $2
		ORDER BY start_date ASC`
	rows, err := r.pool.Query(ctx, query, userID, medicineID)
	if err != nil {
		return nil, fmt.Errorf("list pair schedules: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListOverlapping returns the user's schedules intersecting [from, to]. An
// unset end date is treated as open-ended.
func (r *ScheduleRepo) ListOverlapping(ctx context.Context, userID uuid.UUID, medicineID *uuid.UUID, from, to time.Time) ([]*schedule.Schedule, error) {
	query := `SELECT` + scheduleColumns + `
		FROM schedules
		WHERE user_id = $1
		  AND start_date <= $2
		  AND (end_date IS NULL OR end_date >= $3)`
	args := []interface{}{userID, to, from}
	if medicineID != nil {
		query += ` AND medicine_id = $4`
		args = append(args, *medicineID)
	}
	query += ` ORDER BY start_date ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list overlapping schedules: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// updateIn writes the schedule conditionally on its read version. Returns
// ErrVersionConflict when the row moved (or vanished) underneath the caller.
func updateIn(ctx context.Context, tx pgx.Tx, s *schedule.Schedule) error {
	timesRaw, err := json.Marshal(s.TimesOfDay)
	if err != nil {
		return fmt.Errorf("encode times of day: %w", err)
	}
	logRaw, err := json.Marshal(s.DoseLog)
	if err != nil {
		return fmt.Errorf("encode dose log: %w", err)
	}

	query := `
		UPDATE schedules
		SET medicine_id = $1, allocated_quantity = $2, start_date = $3, end_date = $4,
		    doses_per_day = $5, times_of_day = $6, status = $7, dose_log = $8,
		    version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11
	`
	tag, err := tx.Exec(ctx, query,
		s.MedicineID, s.AllocatedQuantity, s.StartDate, s.EndDate,
		s.DosesPerDay, timesRaw, s.Status, logRaw, s.UpdatedAt,
		s.ID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schedule.ErrVersionConflict
	}
	s.Version++
	return nil
}

// Update persists the schedule and its pending events atomically.
func (r *ScheduleRepo) Update(ctx context.Context, s *schedule.Schedule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updateIn(ctx, tx, s); err != nil {
		return err
	}
	if err := drainChanges(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes the schedule, writing its deletion event in the same
// transaction.
func (r *ScheduleRepo) Delete(ctx context.Context, s *schedule.Schedule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, s.ID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schedule.ErrNotFound
	}
	if err := drainChanges(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ApplyDoseTransition persists a dose state change and, when requested, the
// stock decrement in one transaction, all or nothing. The decrement is a
// conditional single-statement update so concurrent takers cannot drive
// stock below zero.
func (r *ScheduleRepo) ApplyDoseTransition(ctx context.Context, s *schedule.Schedule, decrementMedicine *uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if decrementMedicine != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE medicines
			SET quantity_on_hand = quantity_on_hand - 1, updated_at = NOW()
			WHERE id = $1 AND quantity_on_hand > 0
		`, *decrementMedicine)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return medicine.ErrOutOfStock
		}
	}

	if err := updateIn(ctx, tx, s); err != nil {
		return err
	}
	if err := drainChanges(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
