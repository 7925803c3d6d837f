// Package schedule implements the dosing-schedule aggregate and its domain
// events.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventScheduleCreated EventType = "ScheduleCreated"
	EventScheduleUpdated EventType = "ScheduleUpdated"
	EventScheduleDeleted EventType = "ScheduleDeleted"
	EventDoseTaken       EventType = "DoseTaken"
	EventDoseMissed      EventType = "DoseMissed"
)

// Event is a domain event recorded by the aggregate and relayed to the
// message bus through the transactional outbox.
type Event struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   EventType       `json:"event_type"`
	EventData   json.RawMessage `json:"event_data"`
	UserID      string          `json:"user_id,omitempty"`
	MedicineID  string          `json:"medicine_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewEvent creates a new event with a serialized payload.
func NewEvent(aggregateID string, eventType EventType, data interface{}, at time.Time) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		EventType:   eventType,
		EventData:   eventData,
		Timestamp:   at,
	}, nil
}

// ScheduleCreatedData describes a newly created schedule.
type ScheduleCreatedData struct {
	ScheduleID        string    `json:"schedule_id"`
	UserID            string    `json:"user_id"`
	MedicineID        string    `json:"medicine_id"`
	AllocatedQuantity int       `json:"allocated_quantity"`
	StartDate         time.Time `json:"start_date"`
	EndDate           time.Time `json:"end_date"`
	DosesPerDay       int       `json:"doses_per_day"`
	TimesOfDay        []string  `json:"times_of_day"`
	Status            Status    `json:"status"`
	Automated         bool      `json:"automated,omitempty"`
}

// ScheduleUpdatedData describes the effective state after an update. A
// rebuilt ledger discards recorded dose history, so the flag is carried for
// downstream consumers.
type ScheduleUpdatedData struct {
	ScheduleID        string    `json:"schedule_id"`
	AllocatedQuantity int       `json:"allocated_quantity"`
	StartDate         time.Time `json:"start_date"`
	EndDate           time.Time `json:"end_date"`
	DosesPerDay       int       `json:"doses_per_day"`
	TimesOfDay        []string  `json:"times_of_day"`
	LedgerRebuilt     bool      `json:"ledger_rebuilt"`
}

// ScheduleDeletedData describes a deleted schedule.
type ScheduleDeletedData struct {
	ScheduleID string `json:"schedule_id"`
	UserID     string `json:"user_id"`
}

// DoseTransitionData describes a single dose state transition.
type DoseTransitionData struct {
	ScheduleID string     `json:"schedule_id"`
	MedicineID string     `json:"medicine_id"`
	Date       time.Time  `json:"date"`
	Time       string     `json:"time"`
	Status     DoseStatus `json:"status"`
	At         time.Time  `json:"at"`
}

// WithRouting sets the routing metadata used as partition keys downstream.
func (e *Event) WithRouting(userID, medicineID uuid.UUID) *Event {
	e.UserID = userID.String()
	e.MedicineID = medicineID.String()
	return e
}
