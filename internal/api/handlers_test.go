package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/provider-booking-engine/internal/apperr"
	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/availability"
	"github.com/hackgods/provider-booking-engine/internal/schedule"
)

// 2030-06-03 is a Monday.
var monday = time.Date(2030, 6, 3, 0, 0, 0, 0, time.UTC)

type testServer struct {
	handler    http.Handler
	providerID uuid.UUID
	now        time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	ts := &testServer{now: monday.Add(6 * time.Hour)}
	clock := func() time.Time { return ts.now }

	schedules := schedule.NewMemoryStore()
	repo := appointment.NewMemoryRepository()

	p, err := schedules.CreateProvider(ctx, schedule.Provider{Name: "Dr. HTTP"})
	require.NoError(t, err)
	ts.providerID = p.ID
	require.NoError(t, schedules.Supersede(ctx, p.ID, []schedule.WeeklyAvailability{{
		DayOfWeek:            time.Monday,
		StartMinute:          9 * 60,
		EndMinute:            17 * 60,
		SlotDurationMinutes:  60,
		MaxConcurrentPerSlot: 1,
	}}, monday.AddDate(0, 0, -7)))

	coord := appointment.NewCoordinator(repo, schedules, nil, appointment.Policy{
		CancellationCutoff: 2 * time.Hour,
		Location:           time.UTC,
		Clock:              clock,
	})
	avail := availability.NewService(schedules, repo, nil, availability.Options{Location: time.UTC, Clock: clock})

	ts.handler = NewRouter(RouterConfig{
		Booking:      coord,
		Availability: avail,
		Providers:    schedules,
		Location:     time.UTC,
		Env:          "test",
		Version:      "test",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) book(t *testing.T, at time.Time) AppointmentResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:   uuid.NewString(),
		ProviderID:  ts.providerID.String(),
		ScheduledAt: at,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestBookAppointment(t *testing.T) {
	ts := newTestServer(t)

	appt := ts.book(t, monday.Add(9*time.Hour))
	assert.Equal(t, "scheduled", appt.State)
	assert.Equal(t, "consultation", appt.Type)
	assert.NotEmpty(t, appt.ConfirmationCode)

	rec := ts.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:   uuid.NewString(),
		ProviderID:  ts.providerID.String(),
		ScheduledAt: monday.Add(9 * time.Hour),
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", errorCode(t, rec))

	rec = ts.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBookAppointment_PatientFromHeader(t *testing.T) {
	ts := newTestServer(t)
	patient := uuid.New()

	rec := ts.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		ProviderID:  ts.providerID.String(),
		ScheduledAt: monday.Add(11 * time.Hour),
	}, map[string]string{headerUserID: patient.String(), headerUserRole: "patient"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, patient, resp.PatientID)
}

func TestBookAppointment_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name:     "bad provider id",
			body:     BookAppointmentRequest{PatientID: uuid.NewString(), ProviderID: "x", ScheduledAt: monday.Add(9 * time.Hour)},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_provider_id",
		},
		{
			name:     "off grid",
			body:     BookAppointmentRequest{PatientID: uuid.NewString(), ProviderID: ts.providerID.String(), ScheduledAt: monday.Add(9*time.Hour + 15*time.Minute)},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_slot",
		},
		{
			name:     "unknown provider",
			body:     BookAppointmentRequest{PatientID: uuid.NewString(), ProviderID: uuid.NewString(), ScheduledAt: monday.Add(9 * time.Hour)},
			wantCode: http.StatusNotFound,
			wantErr:  "provider_not_found",
		},
		{
			name:     "unknown type",
			body:     BookAppointmentRequest{PatientID: uuid.NewString(), ProviderID: ts.providerID.String(), ScheduledAt: monday.Add(9 * time.Hour), Type: "massage"},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "missing time",
			body:     BookAppointmentRequest{PatientID: uuid.NewString(), ProviderID: ts.providerID.String()},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_scheduled_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments", tt.body, nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
		})
	}
}

func TestGetAvailability(t *testing.T) {
	ts := newTestServer(t)
	ts.book(t, monday.Add(9*time.Hour))

	rec := ts.do(t, http.MethodGet, "/providers/"+ts.providerID.String()+"/availability?from=2030-06-03&days=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AvailabilityResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "2030-06-03", resp.From)
	require.Len(t, resp.Slots, 7)
	assert.True(t, resp.Slots[0].Datetime.Equal(monday.Add(10*time.Hour)))

	rec = ts.do(t, http.MethodGet, "/providers/"+ts.providerID.String()+"/availability?from=2030-06-03&days=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/providers/"+ts.providerID.String()+"/availability?from=June", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_from", errorCode(t, rec))
}

func TestCancelAppointment_Cutoff(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.book(t, monday.Add(9*time.Hour))
	ts.now = monday.Add(8 * time.Hour)

	patient := map[string]string{headerUserID: appt.PatientID.String(), headerUserRole: "patient"}

	rec := ts.do(t, http.MethodPatch, "/appointments/"+appt.ID.String()+"/cancel", CancelAppointmentRequest{Reason: "late"}, patient)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "cancellation_window", errorCode(t, rec))

	// only admins may assert an override
	rec = ts.do(t, http.MethodPatch, "/appointments/"+appt.ID.String()+"/cancel", CancelAppointmentRequest{Override: true}, patient)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	admin := map[string]string{headerUserID: uuid.NewString(), headerUserRole: "admin"}
	rec = ts.do(t, http.MethodPatch, "/appointments/"+appt.ID.String()+"/cancel", CancelAppointmentRequest{Reason: "clinic closed"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "cancelled", resp.State)
	assert.Equal(t, "clinic closed", resp.CancellationReason)

	rec = ts.do(t, http.MethodPatch, "/appointments/"+appt.ID.String()+"/confirm", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))
}

func TestRescheduleAppointment(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.book(t, monday.Add(9*time.Hour))
	ts.book(t, monday.Add(10*time.Hour))

	path := "/appointments/" + appt.ID.String() + "/reschedule"

	rec := ts.do(t, http.MethodPatch, path, RescheduleAppointmentRequest{ScheduledAt: monday.Add(10 * time.Hour)}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", errorCode(t, rec))

	rec = ts.do(t, http.MethodPatch, path, RescheduleAppointmentRequest{ScheduledAt: monday.Add(14 * time.Hour)}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var moved AppointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&moved))
	require.NotNil(t, moved.RescheduledFromID)
	assert.Equal(t, appt.ID, *moved.RescheduledFromID)
}

func TestListAppointments(t *testing.T) {
	ts := newTestServer(t)
	appt := ts.book(t, monday.Add(9*time.Hour))
	ts.book(t, monday.Add(10*time.Hour))

	rec := ts.do(t, http.MethodGet, "/appointments?patient_id="+appt.PatientID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var byPatient ListAppointmentsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&byPatient))
	assert.Len(t, byPatient.Appointments, 1)

	rec = ts.do(t, http.MethodGet, "/appointments?provider_id="+ts.providerID.String()+"&from=2030-06-03&to=2030-06-04", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var byProvider ListAppointmentsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&byProvider))
	assert.Len(t, byProvider.Appointments, 2)

	rec = ts.do(t, http.MethodGet, "/appointments", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_filter", errorCode(t, rec))
}

func TestProviderDirectory(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/providers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListProvidersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Providers, 1)
	assert.Equal(t, ts.providerID, list.Providers[0].ID)

	rec = ts.do(t, http.MethodGet, "/providers/"+ts.providerID.String()+"/schedule", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sched ScheduleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sched))
	require.Len(t, sched.Entries, 1)
	assert.Equal(t, "Monday", sched.Entries[0].DayOfWeek)
	assert.Equal(t, "09:00", sched.Entries[0].StartTime)
	assert.Equal(t, "17:00", sched.Entries[0].EndTime)

	rec = ts.do(t, http.MethodGet, "/providers/"+uuid.NewString()+"/schedule", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotFoundAndBadIDs(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", errorCode(t, rec))

	rec = ts.do(t, http.MethodGet, "/appointments/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/appointments/"+uuid.NewString()+"/cancel", nil,
		map[string]string{headerUserRole: "superuser"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_user_role", errorCode(t, rec))
}

func TestHandleDomainError_StorageIsServiceUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handleDomainError(rec, req, apperr.Storage("book appointment", errors.New("connection refused")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "storage_unavailable", errorCode(t, rec))
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
