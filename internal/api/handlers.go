package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/provider-booking-engine/internal/apperr"
	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/availability"
	"github.com/hackgods/provider-booking-engine/internal/schedule"
	"github.com/hackgods/provider-booking-engine/internal/slots"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"

	defaultHorizonDays = 7
)

// BookingService is the write side the handlers drive.
type BookingService interface {
	Book(ctx context.Context, in appointment.BookInput) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Start(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, in appointment.CancelInput) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, in appointment.RescheduleInput) (*appointment.Appointment, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, providerNotes string) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

type AvailabilityService interface {
	GetAvailability(ctx context.Context, q availability.Query) ([]slots.Offer, error)
}

// ProviderDirectory is the read-only view of provider records.
type ProviderDirectory interface {
	ListProviders(ctx context.Context, limit int) ([]schedule.Provider, error)
	GetSchedule(ctx context.Context, providerID uuid.UUID) (*schedule.ProviderSchedule, error)
}

type handlers struct {
	booking      BookingService
	availability AvailabilityService
	providers    ProviderDirectory
	loc          *time.Location
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "id", "invalid_provider_id")
	if !ok {
		return
	}

	q := r.URL.Query()
	from := time.Now().In(h.loc)
	if v := q.Get("from"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
			return
		}
		from = d
	}

	days, ok := intQuery(w, r, "days", defaultHorizonDays)
	if !ok {
		return
	}
	limit, ok := intQuery(w, r, "limit", 0)
	if !ok {
		return
	}

	offers, err := h.availability.GetAvailability(r.Context(), availability.Query{
		ProviderID:  providerID,
		From:        from,
		HorizonDays: days,
		Limit:       limit,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		ProviderID:  providerID,
		From:        from.Format("2006-01-02"),
		HorizonDays: days,
		Slots:       offers,
	})
}

func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit", 100)
	if !ok {
		return
	}

	providers, err := h.providers.ListProviders(r.Context(), limit)
	if err != nil {
		handleDomainError(w, r, apperr.Storage("list providers", err))
		return
	}

	resp := ListProvidersResponse{Providers: make([]ProviderResponse, 0, len(providers))}
	for _, p := range providers {
		resp.Providers = append(resp.Providers, ProviderResponse{ID: p.ID, Name: p.Name, Specialty: p.Specialty})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "id", "invalid_provider_id")
	if !ok {
		return
	}

	sched, err := h.providers.GetSchedule(r.Context(), providerID)
	if err != nil {
		var cfgErr *apperr.ConfigurationError
		switch {
		case errors.Is(err, schedule.ErrProviderNotFound):
			err = &apperr.NotFoundError{Resource: "provider", ID: providerID.String()}
		case !errors.As(err, &cfgErr):
			err = apperr.Storage("load provider schedule", err)
		}
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toScheduleResponse(sched))
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	// patients book for themselves
	if req.PatientID == "" && actor.Role == appointment.RolePatient && actor.UserID != uuid.Nil {
		req.PatientID = actor.UserID.String()
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}

	if req.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_scheduled_at", "scheduled_at is required")
		return
	}

	appt, err := h.booking.Book(r.Context(), appointment.BookInput{
		PatientID:       patientID,
		ProviderID:      providerID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Type:            appointment.Type(req.Type),
		LocationMode:    appointment.LocationMode(req.LocationMode),
		Notes:           req.Notes,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.booking.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		appts []appointment.Appointment
		err   error
	)

	switch {
	case q.Get("patient_id") != "":
		patientID, perr := uuid.Parse(q.Get("patient_id"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		limit, ok := intQuery(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := intQuery(w, r, "offset", 0)
		if !ok {
			return
		}
		appts, err = h.booking.ListByPatient(r.Context(), patientID, limit, offset)

	case q.Get("provider_id") != "":
		providerID, perr := uuid.Parse(q.Get("provider_id"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}
		from, to, ok := h.rangeQuery(w, r)
		if !ok {
			return
		}
		appts, err = h.booking.ListByProvider(r.Context(), providerID, from, to)

	default:
		writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or provider_id is required")
		return
	}

	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	resp := ListAppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.booking.Confirm)
}

func (h *handlers) startAppointment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.booking.Start)
}

func (h *handlers) noShowAppointment(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.booking.MarkNoShow)
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	var req CompleteAppointmentRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	h.lifecycle(w, r, func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
		return h.booking.MarkCompleted(ctx, id, req.ProviderNotes)
	})
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req CancelAppointmentRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	h.lifecycle(w, r, func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
		return h.booking.Cancel(ctx, id, appointment.CancelInput{
			Reason:   req.Reason,
			Actor:    actor,
			Override: req.Override && actor.Role == appointment.RoleAdmin,
		})
	})
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req RescheduleAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.ScheduledAt.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_scheduled_at", "scheduled_at is required")
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	h.lifecycle(w, r, func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
		return h.booking.Reschedule(ctx, id, appointment.RescheduleInput{
			NewScheduledAt: req.ScheduledAt,
			Reason:         req.Reason,
			Actor:          actor,
			Override:       req.Override && actor.Role == appointment.RoleAdmin,
		})
	})
}

func (h *handlers) lifecycle(w http.ResponseWriter, r *http.Request,
	op func(context.Context, uuid.UUID) (*appointment.Appointment, error)) {
	id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := op(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

// rangeQuery reads from/to as dates or RFC 3339 timestamps. to defaults to
// one week after from.
func (h *handlers) rangeQuery(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()

	from := schedule.DayStart(time.Now().In(h.loc))
	if v := q.Get("from"); v != "" {
		t, err := h.parseInstant(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD or RFC 3339")
			return time.Time{}, time.Time{}, false
		}
		from = t
	}

	to := from.AddDate(0, 0, defaultHorizonDays)
	if v := q.Get("to"); v != "" {
		t, err := h.parseInstant(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD or RFC 3339")
			return time.Time{}, time.Time{}, false
		}
		to = t
	}

	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "invalid_range", "to must be after from")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *handlers) parseInstant(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, h.loc)
}

// actorFrom reads the caller identity set by the upstream gateway.
func actorFrom(w http.ResponseWriter, r *http.Request) (appointment.Actor, bool) {
	actor := appointment.Actor{Role: appointment.RolePatient}

	if v := r.Header.Get(headerUserID); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", headerUserID+" must be a valid UUID")
			return actor, false
		}
		actor.UserID = id
	}

	if v := r.Header.Get(headerUserRole); v != "" {
		role := appointment.Role(v)
		switch role {
		case appointment.RolePatient, appointment.RoleProvider, appointment.RoleAdmin:
			actor.Role = role
		default:
			writeError(w, http.StatusBadRequest, "invalid_user_role", "unknown role "+v)
			return actor, false
		}
	}

	return actor, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be an integer")
		return 0, false
	}
	return n, true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}
