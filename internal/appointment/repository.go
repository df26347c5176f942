package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrSlotTaken is returned by the store when the blocking-uniqueness guard
	// rejects an insert.
	ErrSlotTaken = errors.New("slot already taken")
	// ErrStateChanged means a conditional update found the row in another state.
	ErrStateChanged = errors.New("appointment state changed concurrently")
)

// Repository contains all DB interactions needed by the coordinator. Insert
// and Reschedule enforce the no-double-booking guard inside the store.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListBlocking(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Insert atomically checks that no blocking appointment starts at
	// appt.ScheduledAt and that fewer than capacity blocking appointments
	// overlap it, then stores appt. It returns ErrSlotTaken otherwise.
	Insert(ctx context.Context, appt *Appointment, capacity int) (*Appointment, error)

	// UpdateState moves id from one state to another, applying change.
	UpdateState(ctx context.Context, id uuid.UUID, from, to State, change Change) (*Appointment, error)

	// Reschedule cancels the original (expected in state from) and inserts
	// replacement in one transaction. Nothing is committed on failure.
	Reschedule(ctx context.Context, originalID uuid.UUID, from State, replacement *Appointment, capacity int, change Change) (cancelled, created *Appointment, err error)

	// No-show sweeper
	FindOverdue(ctx context.Context, endedBefore time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
