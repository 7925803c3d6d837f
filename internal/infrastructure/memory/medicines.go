// Package memory provides mutex-guarded in-memory adapters used in tests and
// dev mode, mirroring the transactional guarantees of the postgres adapters.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dosetrack/go-mat/internal/domain/medicine"
)

// MedicineStore is an in-memory medicine inventory.
type MedicineStore struct {
	mu        sync.RWMutex
	medicines map[uuid.UUID]*medicine.Medicine
}

// NewMedicineStore creates an empty store.
func NewMedicineStore() *MedicineStore {
	return &MedicineStore{medicines: make(map[uuid.UUID]*medicine.Medicine)}
}

// Put inserts or replaces a medicine record.
func (s *MedicineStore) Put(m *medicine.Medicine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.medicines[m.ID] = &cp
}

// GetByID returns a copy of the medicine.
func (s *MedicineStore) GetByID(_ context.Context, id uuid.UUID) (*medicine.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.medicines[id]
	if !ok {
		return nil, medicine.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// GetByName resolves by exact name (case-insensitive), preferring the user's
// own record over admin-provided ones.
func (s *MedicineStore) GetByName(_ context.Context, userID uuid.UUID, name string) (*medicine.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var adminMatch *medicine.Medicine
	for _, m := range s.medicines {
		if !strings.EqualFold(m.Name, name) {
			continue
		}
		if m.OwnerUserID != nil && *m.OwnerUserID == userID {
			cp := *m
			return &cp, nil
		}
		if m.AdminProvided {
			adminMatch = m
		}
	}
	if adminMatch != nil {
		cp := *adminMatch
		return &cp, nil
	}
	return nil, medicine.ErrNotFound
}

// decrement atomically takes one unit; callers hold no lock.
func (s *MedicineStore) decrement(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medicines[id]
	if !ok {
		return medicine.ErrNotFound
	}
	if m.QuantityOnHand <= 0 {
		return medicine.ErrOutOfStock
	}
	m.QuantityOnHand--
	return nil
}

// restore undoes a decrement when the coupled schedule write fails.
func (s *MedicineStore) restore(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.medicines[id]; ok {
		m.QuantityOnHand++
	}
}
