package appointment

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/provider-booking-engine/internal/apperr"
	"github.com/hackgods/provider-booking-engine/internal/notify"
	"github.com/hackgods/provider-booking-engine/internal/schedule"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentStarted     = "APPOINTMENT_STARTED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
)

// Policy holds the business constants of the coordinator.
type Policy struct {
	// CancellationCutoff is the minimum lead time for a patient to cancel or
	// reschedule on their own.
	CancellationCutoff time.Duration
	// Location is the single timezone all slot grids are read in.
	Location *time.Location
	Clock    func() time.Time
}

// Coordinator owns every write to the booking store: book, reschedule,
// cancel and the lifecycle transitions. Conflicts and rule violations come
// back as apperr types and are never retried here.
type Coordinator struct {
	repo      Repository
	schedules schedule.Store
	notifier  notify.Sender
	policy    Policy
}

func NewCoordinator(repo Repository, schedules schedule.Store, notifier notify.Sender, policy Policy) *Coordinator {
	if policy.Location == nil {
		policy.Location = time.Local
	}
	if policy.Clock == nil {
		policy.Clock = time.Now
	}
	return &Coordinator{
		repo:      repo,
		schedules: schedules,
		notifier:  notifier,
		policy:    policy,
	}
}

type BookInput struct {
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Type            Type
	LocationMode    LocationMode
	Notes           string
}

type CancelInput struct {
	Reason string
	Actor  Actor
	// Override is an administrative assertion that lifts the cutoff.
	Override bool
}

type RescheduleInput struct {
	NewScheduledAt time.Time
	Reason         string
	Actor          Actor
	Override       bool
}

// Book places a patient in a provider slot. The slot must be on the
// provider's grid and in the future. The store re-checks the slot and
// inserts in one step, so a lost race comes back as *apperr.ConflictError.
func (c *Coordinator) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	if in.PatientID == uuid.Nil {
		return nil, &apperr.ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if in.Type == "" {
		in.Type = TypeConsultation
	}
	if !in.Type.Valid() {
		return nil, &apperr.ValidationError{Field: "type", Reason: "unknown appointment type " + string(in.Type)}
	}
	if in.LocationMode == "" {
		in.LocationMode = LocationClinic
	}
	if !in.LocationMode.Valid() {
		return nil, &apperr.ValidationError{Field: "location_mode", Reason: "unknown location mode " + string(in.LocationMode)}
	}
	if in.DurationMinutes < 0 {
		return nil, &apperr.ValidationError{Field: "duration_minutes", Reason: "must not be negative"}
	}

	sched, err := c.loadSchedule(ctx, in.ProviderID)
	if err != nil {
		return nil, err
	}

	at := in.ScheduledAt.In(c.policy.Location)
	entry, duration, err := c.checkSlot(sched, at, in.DurationMinutes)
	if err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:               uuid.New(),
		PatientID:        in.PatientID,
		ProviderID:       in.ProviderID,
		ScheduledAt:      at,
		DurationMinutes:  duration,
		Type:             in.Type,
		LocationMode:     in.LocationMode,
		State:            StateScheduled,
		Notes:            strings.TrimSpace(in.Notes),
		ConfirmationCode: newConfirmationCode(),
	}

	created, err := c.repo.Insert(ctx, appt, entry.MaxConcurrentPerSlot)
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, &apperr.ConflictError{ProviderID: in.ProviderID.String(), At: at}
		}
		return nil, apperr.Storage("book appointment", err)
	}

	c.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"patient_id":   created.PatientID.String(),
		"provider_id":  created.ProviderID.String(),
		"scheduled_at": created.ScheduledAt,
	})
	c.notify(created, notify.KindBooked)

	return created, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (c *Coordinator) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, err := c.transition(ctx, id, "confirm", StateConfirmed, Change{}, nil, StateScheduled)
	if err != nil {
		return nil, err
	}

	c.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})
	c.notify(updated, notify.KindConfirmed)
	return updated, nil
}

// Start marks a confirmed appointment as in progress once its time has come.
func (c *Coordinator) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, err := c.transition(ctx, id, "start", StateInProgress, Change{}, c.requireElapsed("start"), StateConfirmed)
	if err != nil {
		return nil, err
	}

	c.logEvent(ctx, updated.ID, EventAppointmentStarted, map[string]any{})
	return updated, nil
}

// Cancel releases the slot. Patients cannot cancel inside the cutoff window;
// the appointment's own provider, admins and explicit overrides can.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID, in CancelInput) (*Appointment, error) {
	change := Change{Reason: strings.TrimSpace(in.Reason)}
	if in.Actor.UserID != uuid.Nil {
		actorID := in.Actor.UserID
		change.CancelledBy = &actorID
	}

	cutoff := func(a *Appointment) error {
		return c.checkCutoff(a, in.Actor, in.Override)
	}

	updated, err := c.transition(ctx, id, "cancel", StateCancelled, change, cutoff, StateScheduled, StateConfirmed)
	if err != nil {
		return nil, err
	}

	c.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"reason":     updated.CancellationReason,
		"actor_role": string(in.Actor.Role),
		"override":   in.Override,
	})
	c.notify(updated, notify.KindCancelled)
	return updated, nil
}

// Reschedule cancels the original and books the new time as a fresh
// appointment in one store transaction. If the new slot is gone the original
// is left untouched. The returned appointment is the new one.
func (c *Coordinator) Reschedule(ctx context.Context, id uuid.UUID, in RescheduleInput) (*Appointment, error) {
	orig, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.State != StateScheduled && orig.State != StateConfirmed {
		return nil, &apperr.InvalidTransitionError{AppointmentID: id.String(), From: string(orig.State), Action: "reschedule"}
	}
	if err := c.checkCutoff(orig, in.Actor, in.Override); err != nil {
		return nil, err
	}

	sched, err := c.loadSchedule(ctx, orig.ProviderID)
	if err != nil {
		return nil, err
	}

	at := in.NewScheduledAt.In(c.policy.Location)
	entry, duration, err := c.checkSlot(sched, at, orig.DurationMinutes)
	if err != nil {
		return nil, err
	}

	fromID := orig.ID
	replacement := &Appointment{
		ID:                uuid.New(),
		PatientID:         orig.PatientID,
		ProviderID:        orig.ProviderID,
		ScheduledAt:       at,
		DurationMinutes:   duration,
		Type:              orig.Type,
		LocationMode:      orig.LocationMode,
		State:             StateScheduled,
		Notes:             orig.Notes,
		RescheduledFromID: &fromID,
		ConfirmationCode:  newConfirmationCode(),
	}

	change := Change{Reason: strings.TrimSpace(in.Reason)}
	if change.Reason == "" {
		change.Reason = "rescheduled"
	}
	if in.Actor.UserID != uuid.Nil {
		actorID := in.Actor.UserID
		change.CancelledBy = &actorID
	}

	cancelled, created, err := c.repo.Reschedule(ctx, orig.ID, orig.State, replacement, entry.MaxConcurrentPerSlot, change)
	if err != nil {
		switch {
		case errors.Is(err, ErrSlotTaken):
			return nil, &apperr.ConflictError{ProviderID: orig.ProviderID.String(), At: at}
		case errors.Is(err, ErrStateChanged), errors.Is(err, ErrAppointmentNotFound):
			return nil, c.staleTransition(ctx, id, "reschedule")
		}
		return nil, apperr.Storage("reschedule appointment", err)
	}

	c.logEvent(ctx, cancelled.ID, EventAppointmentRescheduled, map[string]any{
		"rescheduled_to_id": created.ID.String(),
		"new_scheduled_at":  created.ScheduledAt,
		"reason":            change.Reason,
	})
	c.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"rescheduled_from_id": cancelled.ID.String(),
		"scheduled_at":        created.ScheduledAt,
	})
	c.notify(created, notify.KindRescheduled)

	return created, nil
}

// MarkCompleted closes an appointment whose time has passed.
func (c *Coordinator) MarkCompleted(ctx context.Context, id uuid.UUID, providerNotes string) (*Appointment, error) {
	change := Change{ProviderNotes: strings.TrimSpace(providerNotes)}
	updated, err := c.transition(ctx, id, "complete", StateCompleted, change, c.requireElapsed("complete"),
		StateScheduled, StateConfirmed, StateInProgress)
	if err != nil {
		return nil, err
	}

	c.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{})
	c.notify(updated, notify.KindCompleted)
	return updated, nil
}

// MarkNoShow records that the patient never arrived.
func (c *Coordinator) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, err := c.transition(ctx, id, "mark as no-show", StateNoShow, Change{}, c.requireElapsed("mark as no-show"),
		StateScheduled, StateConfirmed)
	if err != nil {
		return nil, err
	}

	c.logEvent(ctx, updated.ID, EventAppointmentNoShow, map[string]any{"reason": "provider"})
	c.notify(updated, notify.KindNoShow)
	return updated, nil
}

// SweepNoShows marks scheduled or confirmed appointments that ended more than
// grace ago as no-shows. Intended to be called by the worker periodically.
func (c *Coordinator) SweepNoShows(ctx context.Context, grace time.Duration, batch int) (int, error) {
	overdue, err := c.repo.FindOverdue(ctx, c.policy.Clock().Add(-grace), batch)
	if err != nil {
		return 0, apperr.Storage("find overdue appointments", err)
	}

	marked := 0
	for _, appt := range overdue {
		updated, err := c.repo.UpdateState(ctx, appt.ID, appt.State, StateNoShow, Change{})
		if err != nil {
			if !errors.Is(err, ErrStateChanged) {
				log.Ctx(ctx).Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark no-show")
			}
			continue
		}
		marked++
		c.logEvent(ctx, updated.ID, EventAppointmentNoShow, map[string]any{"reason": "worker"})
		c.notify(updated, notify.KindNoShow)
	}

	return marked, nil
}

// Get retrieves an appointment by ID
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return c.load(ctx, id)
}

// ListByPatient retrieves appointments for a specific patient
func (c *Coordinator) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := c.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, apperr.Storage("list appointments by patient", err)
	}
	return appts, nil
}

// ListByProvider retrieves a provider's appointments in [from, to), any state.
func (c *Coordinator) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	appts, err := c.repo.ListByProvider(ctx, providerID, from, to)
	if err != nil {
		return nil, apperr.Storage("list appointments by provider", err)
	}
	return appts, nil
}

// transition loads id, checks it is in one of allowed, runs check and then
// applies a conditional update to the target state.
func (c *Coordinator) transition(ctx context.Context, id uuid.UUID, action string, to State, change Change,
	check func(*Appointment) error, allowed ...State) (*Appointment, error) {
	appt, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !stateIn(appt.State, allowed) {
		return nil, &apperr.InvalidTransitionError{AppointmentID: id.String(), From: string(appt.State), Action: action}
	}
	if check != nil {
		if err := check(appt); err != nil {
			return nil, err
		}
	}

	updated, err := c.repo.UpdateState(ctx, id, appt.State, to, change)
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			return nil, c.staleTransition(ctx, id, action)
		}
		return nil, apperr.Storage(action+" appointment", err)
	}
	return updated, nil
}

func (c *Coordinator) staleTransition(ctx context.Context, id uuid.UUID, action string) error {
	current, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	return &apperr.InvalidTransitionError{AppointmentID: id.String(), From: string(current.State), Action: action}
}

func (c *Coordinator) requireElapsed(action string) func(*Appointment) error {
	return func(a *Appointment) error {
		if c.policy.Clock().Before(a.ScheduledAt) {
			return &apperr.InvalidTransitionError{
				AppointmentID: a.ID.String(),
				From:          string(a.State),
				Action:        action + " before its scheduled time",
			}
		}
		return nil
	}
}

func (c *Coordinator) checkCutoff(a *Appointment, actor Actor, override bool) error {
	if override || actor.Role == RoleAdmin {
		return nil
	}
	if actor.Role == RoleProvider && actor.UserID == a.ProviderID {
		return nil
	}
	if a.ScheduledAt.Sub(c.policy.Clock()) < c.policy.CancellationCutoff {
		return &apperr.CancellationWindowError{
			AppointmentID: a.ID.String(),
			ScheduledAt:   a.ScheduledAt,
			Cutoff:        c.policy.CancellationCutoff,
		}
	}
	return nil
}

// checkSlot validates at against the provider grid and returns the matching
// entry and the effective duration.
func (c *Coordinator) checkSlot(sched *schedule.ProviderSchedule, at time.Time, duration int) (schedule.WeeklyAvailability, int, error) {
	providerID := sched.ProviderID.String()

	entry, reason := sched.SlotAt(at)
	if reason != "" {
		return entry, 0, &apperr.InvalidSlotError{ProviderID: providerID, At: at, Reason: reason}
	}
	if at.Before(c.policy.Clock()) {
		return entry, 0, &apperr.InvalidSlotError{ProviderID: providerID, At: at, Reason: "slot is in the past"}
	}

	if duration == 0 {
		duration = entry.SlotDurationMinutes
	}
	if schedule.MinuteOfDay(at)+duration > entry.EndMinute {
		return entry, 0, &apperr.InvalidSlotError{
			ProviderID: providerID,
			At:         at,
			Reason:     "appointment would run past " + schedule.FormatClock(entry.EndMinute),
		}
	}

	return entry, duration, nil
}

func (c *Coordinator) loadSchedule(ctx context.Context, providerID uuid.UUID) (*schedule.ProviderSchedule, error) {
	sched, err := c.schedules.GetSchedule(ctx, providerID)
	if err != nil {
		var cfgErr *apperr.ConfigurationError
		switch {
		case errors.Is(err, schedule.ErrProviderNotFound):
			return nil, &apperr.NotFoundError{Resource: "provider", ID: providerID.String()}
		case errors.As(err, &cfgErr):
			return nil, err
		}
		return nil, apperr.Storage("load provider schedule", err)
	}
	return sched, nil
}

func (c *Coordinator) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := c.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, &apperr.NotFoundError{Resource: "appointment", ID: id.String()}
		}
		return nil, apperr.Storage("load appointment", err)
	}
	return appt, nil
}

// notify tells both parties. Delivery is asynchronous and cannot fail the
// operation that triggered it.
func (c *Coordinator) notify(a *Appointment, kind string) {
	if c.notifier == nil {
		return
	}
	now := c.policy.Clock()
	for _, recipient := range []uuid.UUID{a.PatientID, a.ProviderID} {
		c.notifier.Send(notify.Event{
			Kind:          kind,
			AppointmentID: a.ID,
			NewState:      string(a.State),
			RecipientID:   recipient,
			OccurredAt:    now,
		})
	}
}

func (c *Coordinator) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     c.policy.Clock(),
	}

	if err := c.repo.InsertEvent(ctx, ev); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func stateIn(s State, allowed []State) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

func newConfirmationCode() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:4]))
}
