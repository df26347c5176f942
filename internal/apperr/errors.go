// Package apperr holds the typed errors returned by the scheduling core.
// Callers branch on them with errors.As; none of them are retried internally.
package apperr

import (
	"fmt"
	"time"
)

// InvalidSlotError reports a datetime that is off the provider's slot grid,
// outside the provider's working window, or in the past.
type InvalidSlotError struct {
	ProviderID string
	At         time.Time
	Reason     string
}

func (e *InvalidSlotError) Error() string {
	return fmt.Sprintf("invalid slot %s for provider %s: %s", e.At.Format(time.RFC3339), e.ProviderID, e.Reason)
}

// ConflictError means the requested slot was taken by another booking.
// The caller should re-query availability and pick again.
type ConflictError struct {
	ProviderID string
	At         time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s for provider %s is no longer available", e.At.Format(time.RFC3339), e.ProviderID)
}

// InvalidTransitionError is a lifecycle state machine violation.
type InvalidTransitionError struct {
	AppointmentID string
	From          string
	Action        string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s appointment %s in state %q", e.Action, e.AppointmentID, e.From)
}

// CancellationWindowError is returned when a patient tries to cancel inside
// the cutoff window.
type CancellationWindowError struct {
	AppointmentID string
	ScheduledAt   time.Time
	Cutoff        time.Duration
}

func (e *CancellationWindowError) Error() string {
	return fmt.Sprintf("appointment %s at %s is within the %s cancellation cutoff",
		e.AppointmentID, e.ScheduledAt.Format(time.RFC3339), e.Cutoff)
}

// NotFoundError reports an unknown appointment or provider.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConfigurationError reports a malformed provider schedule. It is raised at the
// schedule store boundary and never reaches slot generation.
type ConfigurationError struct {
	ProviderID string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.ProviderID == "" {
		return "invalid schedule: " + e.Reason
	}
	return fmt.Sprintf("invalid schedule for provider %s: %s", e.ProviderID, e.Reason)
}

// StorageError wraps unexpected failures of the underlying store. It must not
// be read as a business rule failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Storage wraps err as a *StorageError unless it is nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ValidationError reports a malformed request, such as a missing id or an
// unknown appointment type.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}
