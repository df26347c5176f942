package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/schedule"
	"github.com/hackgods/provider-booking-engine/internal/slots"
)

type BookAppointmentRequest struct {
	PatientID       string    `json:"patient_id"`
	ProviderID      string    `json:"provider_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	LocationMode    string    `json:"location_mode"`
	Notes           string    `json:"notes"`
}

type CancelAppointmentRequest struct {
	Reason   string `json:"reason"`
	Override bool   `json:"override"`
}

type RescheduleAppointmentRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	Reason      string    `json:"reason"`
	Override    bool      `json:"override"`
}

type CompleteAppointmentRequest struct {
	ProviderNotes string `json:"provider_notes"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	ScheduledAt        time.Time  `json:"scheduled_at"`
	DurationMinutes    int        `json:"duration_minutes"`
	Type               string     `json:"type"`
	LocationMode       string     `json:"location_mode"`
	State              string     `json:"state"`
	Notes              string     `json:"notes,omitempty"`
	ProviderNotes      string     `json:"provider_notes,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	RescheduledFromID  *uuid.UUID `json:"rescheduled_from_id,omitempty"`
	RescheduledToID    *uuid.UUID `json:"rescheduled_to_id,omitempty"`
	ConfirmationCode   string     `json:"confirmation_code"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type AvailabilityResponse struct {
	ProviderID  uuid.UUID     `json:"provider_id"`
	From        string        `json:"from"`
	HorizonDays int           `json:"horizon_days"`
	Slots       []slots.Offer `json:"slots"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		ProviderID:         a.ProviderID,
		ScheduledAt:        a.ScheduledAt,
		DurationMinutes:    a.DurationMinutes,
		Type:               string(a.Type),
		LocationMode:       string(a.LocationMode),
		State:              string(a.State),
		Notes:              a.Notes,
		ProviderNotes:      a.ProviderNotes,
		CancellationReason: a.CancellationReason,
		RescheduledFromID:  a.RescheduledFromID,
		RescheduledToID:    a.RescheduledToID,
		ConfirmationCode:   a.ConfirmationCode,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

type ProviderResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type ListProvidersResponse struct {
	Providers []ProviderResponse `json:"providers"`
}

type ScheduleEntryResponse struct {
	ID                   uuid.UUID `json:"id"`
	DayOfWeek            string    `json:"day_of_week"`
	StartTime            string    `json:"start_time"`
	EndTime              string    `json:"end_time"`
	SlotDurationMinutes  int       `json:"slot_duration_minutes"`
	MaxConcurrentPerSlot int       `json:"max_concurrent_per_slot"`
	EffectiveFrom        string    `json:"effective_from"`
	EffectiveUntil       *string   `json:"effective_until,omitempty"`
}

type ScheduleExceptionResponse struct {
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}

type ScheduleResponse struct {
	ProviderID uuid.UUID                   `json:"provider_id"`
	Entries    []ScheduleEntryResponse     `json:"entries"`
	Exceptions []ScheduleExceptionResponse `json:"exceptions"`
}

func toScheduleResponse(s *schedule.ProviderSchedule) ScheduleResponse {
	resp := ScheduleResponse{
		ProviderID: s.ProviderID,
		Entries:    make([]ScheduleEntryResponse, 0, len(s.Entries)),
		Exceptions: make([]ScheduleExceptionResponse, 0, len(s.Exceptions)),
	}
	for _, e := range s.Entries {
		entry := ScheduleEntryResponse{
			ID:                   e.ID,
			DayOfWeek:            e.DayOfWeek.String(),
			StartTime:            schedule.FormatClock(e.StartMinute),
			EndTime:              schedule.FormatClock(e.EndMinute),
			SlotDurationMinutes:  e.SlotDurationMinutes,
			MaxConcurrentPerSlot: e.MaxConcurrentPerSlot,
			EffectiveFrom:        e.EffectiveFrom.Format("2006-01-02"),
		}
		if e.EffectiveUntil != nil {
			until := e.EffectiveUntil.Format("2006-01-02")
			entry.EffectiveUntil = &until
		}
		resp.Entries = append(resp.Entries, entry)
	}
	for _, ex := range s.Exceptions {
		resp.Exceptions = append(resp.Exceptions, ScheduleExceptionResponse{
			Date:   ex.Date.Format("2006-01-02"),
			Reason: ex.Reason,
		})
	}
	return resp
}
