package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dosetrack/go-mat/internal/domain/medicine"
)

// MedicineStore reads medicine inventory records. Writes are limited to the
// stock decrement performed inside ScheduleRepo.ApplyDoseTransition.
type MedicineStore struct {
	pool *pgxpool.Pool
}

// NewMedicineStore creates a medicine store backed by the shared pool.
func NewMedicineStore(pool *pgxpool.Pool) *MedicineStore {
	return &MedicineStore{pool: pool}
}

const medicineColumns = `
	id, owner_user_id, name, admin_provided, quantity_on_hand, expiry_date,
	created_at, updated_at`

func scanMedicine(row pgx.Row) (*medicine.Medicine, error) {
	m := &medicine.Medicine{}
	err := row.Scan(
		&m.ID, &m.OwnerUserID, &m.Name, &m.AdminProvided,
		&m.QuantityOnHand, &m.ExpiryDate, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, medicine.ErrNotFound
		}
		return nil, fmt.Errorf("scan medicine: %w", err)
	}
	return m, nil
}

// GetByID returns one medicine by id.
func (s *MedicineStore) GetByID(ctx context.Context, id uuid.UUID) (*medicine.Medicine, error) {
	query := `SELECT` + medicineColumns + ` FROM medicines WHERE id = $1`
	return scanMedicine(s.pool.QueryRow(ctx, query, id))
}

// GetByName resolves a medicine by name for the automation path. The user's
// own record wins over an admin-provided one with the same name.
func (s *MedicineStore) GetByName(ctx context.Context, userID uuid.UUID, name string) (*medicine.Medicine, error) {
	query := `SELECT` + medicineColumns + `
		FROM medicines
		WHERE LOWER(name) = LOWER($2)
		  AND (owner_user_id = $1 OR admin_provided)
		ORDER BY (owner_user_id = $1) DESC NULLS LAST
		LIMIT 1`
	return scanMedicine(s.pool.QueryRow(ctx, query, userID, name))
}
