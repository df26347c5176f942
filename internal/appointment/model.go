package appointment

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateScheduled  State = "scheduled"
	StateConfirmed  State = "confirmed"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateNoShow     State = "no_show"
)

// BlockingStates occupy a provider timeslot.
var BlockingStates = []State{StateScheduled, StateConfirmed, StateInProgress, StateCompleted}

func (s State) Blocking() bool {
	switch s {
	case StateScheduled, StateConfirmed, StateInProgress, StateCompleted:
		return true
	}
	return false
}

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateNoShow:
		return true
	}
	return false
}

type Type string

const (
	TypeConsultation Type = "consultation"
	TypeEvaluation   Type = "evaluation"
	TypeFollowUp     Type = "follow_up"
	TypeProcedure    Type = "procedure"
)

func (t Type) Valid() bool {
	switch t {
	case TypeConsultation, TypeEvaluation, TypeFollowUp, TypeProcedure:
		return true
	}
	return false
}

type LocationMode string

const (
	LocationHome       LocationMode = "home"
	LocationClinic     LocationMode = "clinic"
	LocationTelehealth LocationMode = "telehealth"
)

func (l LocationMode) Valid() bool {
	switch l {
	case LocationHome, LocationClinic, LocationTelehealth:
		return true
	}
	return false
}

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Actor is the already-authenticated caller as supplied by the identity service.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	ProviderID         uuid.UUID
	ScheduledAt        time.Time
	DurationMinutes    int
	Type               Type
	LocationMode       LocationMode
	State              State
	Notes              string
	ProviderNotes      string
	CancellationReason string
	CancelledBy        *uuid.UUID
	RescheduledFromID  *uuid.UUID
	RescheduledToID    *uuid.UUID
	ConfirmationCode   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Change carries the columns a state transition may set alongside the state.
type Change struct {
	Reason          string
	CancelledBy     *uuid.UUID
	ProviderNotes   string
	RescheduledToID *uuid.UUID
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
