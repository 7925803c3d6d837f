// Package medicine models the medicine inventory collaborator.
// The engine reads medicine records and decrements stock on taken doses,
// but inventory lifecycle (catalog CRUD, restocking) lives elsewhere.
package medicine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Medicine is an inventory record. AdminProvided medicines belong to the
// shared catalog and never decrement; user-owned medicines carry a finite
// QuantityOnHand consumed one unit per taken dose.
type Medicine struct {
	ID             uuid.UUID  `json:"id"`
	OwnerUserID    *uuid.UUID `json:"owner_user_id,omitempty"`
	Name           string     `json:"name"`
	AdminProvided  bool       `json:"admin_provided"`
	QuantityOnHand int        `json:"quantity_on_hand"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// UserOwned reports whether taken doses draw down this medicine's stock.
func (m *Medicine) UserOwned() bool { return !m.AdminProvided }

// Expired reports whether the medicine's expiry date has passed.
// A nil expiry never expires.
func (m *Medicine) Expired(now time.Time) bool {
	return m.ExpiryDate != nil && m.ExpiryDate.Before(now)
}

// ErrNotFound indicates the referenced medicine does not exist.
var ErrNotFound = errors.New("medicine not found")

// ErrOutOfStock indicates a decrement was refused because no units remain.
var ErrOutOfStock = errors.New("medicine out of stock")

// Store is the read surface the engine needs from the inventory collaborator.
// Stock decrements are not exposed here: they happen atomically with the
// schedule write inside the schedule repository.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	// GetByName resolves a medicine by exact name for the given user,
	// preferring the user's own record over admin-provided ones.
	GetByName(ctx context.Context, userID uuid.UUID, name string) (*Medicine, error)
}
