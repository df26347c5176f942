package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/provider-booking-engine/internal/apperr"
	"github.com/hackgods/provider-booking-engine/internal/notify"
	"github.com/hackgods/provider-booking-engine/internal/schedule"
)

// 2030-06-03 is a Monday.
var monday = time.Date(2030, 6, 3, 0, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *recordingSender) Send(ev notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSender) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

type fixture struct {
	coord      *Coordinator
	repo       *MemoryRepository
	schedules  *schedule.MemoryStore
	sender     *recordingSender
	providerID uuid.UUID
	now        time.Time
}

func (f *fixture) at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// newFixture builds a coordinator over memory stores with one provider who
// works Mondays 09:00-17:00 in hourly slots. The clock starts Monday 06:00.
func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		repo:      NewMemoryRepository(),
		schedules: schedule.NewMemoryStore(),
		sender:    &recordingSender{},
		now:       monday.Add(6 * time.Hour),
	}

	p, err := f.schedules.CreateProvider(ctx, schedule.Provider{Name: "Dr. Test"})
	require.NoError(t, err)
	f.providerID = p.ID

	err = f.schedules.Supersede(ctx, p.ID, []schedule.WeeklyAvailability{{
		DayOfWeek:            time.Monday,
		StartMinute:          9 * 60,
		EndMinute:            17 * 60,
		SlotDurationMinutes:  60,
		MaxConcurrentPerSlot: capacity,
	}}, monday.AddDate(0, 0, -7))
	require.NoError(t, err)

	f.coord = NewCoordinator(f.repo, f.schedules, f.sender, Policy{
		CancellationCutoff: 2 * time.Hour,
		Location:           time.UTC,
		Clock:              func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) book(t *testing.T, at time.Time) *Appointment {
	t.Helper()
	appt, err := f.coord.Book(context.Background(), BookInput{
		PatientID:   uuid.New(),
		ProviderID:  f.providerID,
		ScheduledAt: at,
	})
	require.NoError(t, err)
	return appt
}

func TestBook_Success(t *testing.T) {
	f := newFixture(t, 1)

	appt := f.book(t, f.at(9, 0))

	assert.Equal(t, StateScheduled, appt.State)
	assert.Equal(t, TypeConsultation, appt.Type)
	assert.Equal(t, LocationClinic, appt.LocationMode)
	assert.Equal(t, 60, appt.DurationMinutes)
	assert.Len(t, appt.ConfirmationCode, 8)
	assert.Equal(t, []string{notify.KindBooked, notify.KindBooked}, f.sender.kinds())

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)
}

func TestBook_ConcurrentRequestsForSameSlot(t *testing.T) {
	f := newFixture(t, 1)
	at := f.at(10, 0)

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.coord.Book(context.Background(), BookInput{
				PatientID:   uuid.New(),
				ProviderID:  f.providerID,
				ScheduledAt: at,
			})

			mu.Lock()
			defer mu.Unlock()
			var conflict *apperr.ConflictError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)

	blocking, err := f.repo.ListBlocking(context.Background(), f.providerID, monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, blocking, 1)
}

func TestBook_CapacityAllowsOverlapButNotSameStart(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	first, err := f.coord.Book(ctx, BookInput{
		PatientID:       uuid.New(),
		ProviderID:      f.providerID,
		ScheduledAt:     f.at(9, 0),
		DurationMinutes: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, 120, first.DurationMinutes)

	// overlaps the first, which capacity 2 allows
	_, err = f.coord.Book(ctx, BookInput{PatientID: uuid.New(), ProviderID: f.providerID, ScheduledAt: f.at(10, 0)})
	require.NoError(t, err)

	var conflict *apperr.ConflictError
	_, err = f.coord.Book(ctx, BookInput{PatientID: uuid.New(), ProviderID: f.providerID, ScheduledAt: f.at(9, 0)})
	assert.ErrorAs(t, err, &conflict)
}

func TestBook_InvalidSlot(t *testing.T) {
	f := newFixture(t, 1)

	tests := []struct {
		name     string
		at       time.Time
		duration int
		reason   string
	}{
		{name: "off grid", at: f.at(9, 30), reason: "slot grid"},
		{name: "outside hours", at: f.at(18, 0), reason: "outside the provider's working hours"},
		{name: "day off", at: f.at(9, 0).AddDate(0, 0, 1), reason: "not working"},
		{name: "in the past", at: f.at(9, 0).AddDate(0, 0, -7), reason: "in the past"},
		{name: "runs past end of day", at: f.at(16, 0), duration: 90, reason: "run past 17:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.Book(context.Background(), BookInput{
				PatientID:       uuid.New(),
				ProviderID:      f.providerID,
				ScheduledAt:     tt.at,
				DurationMinutes: tt.duration,
			})
			var slotErr *apperr.InvalidSlotError
			require.ErrorAs(t, err, &slotErr)
			assert.Contains(t, slotErr.Reason, tt.reason)
		})
	}
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	var vErr *apperr.ValidationError

	_, err := f.coord.Book(ctx, BookInput{ProviderID: f.providerID, ScheduledAt: f.at(9, 0)})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "patient_id", vErr.Field)

	_, err = f.coord.Book(ctx, BookInput{PatientID: uuid.New(), ProviderID: f.providerID, ScheduledAt: f.at(9, 0), Type: "surgery"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "type", vErr.Field)

	_, err = f.coord.Book(ctx, BookInput{PatientID: uuid.New(), ProviderID: f.providerID, ScheduledAt: f.at(9, 0), LocationMode: "moon"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "location_mode", vErr.Field)
}

func TestBook_UnknownProvider(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.coord.Book(context.Background(), BookInput{
		PatientID:   uuid.New(),
		ProviderID:  uuid.New(),
		ScheduledAt: f.at(9, 0),
	})
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "provider", nf.Resource)
}

type failingRepo struct {
	*MemoryRepository
	err error
}

func (r *failingRepo) Insert(context.Context, *Appointment, int) (*Appointment, error) {
	return nil, r.err
}

func TestBook_StorageFailureIsNotAConflict(t *testing.T) {
	f := newFixture(t, 1)
	dbDown := errors.New("connection refused")
	coord := NewCoordinator(&failingRepo{MemoryRepository: f.repo, err: dbDown}, f.schedules, nil, Policy{
		Location: time.UTC,
		Clock:    func() time.Time { return f.now },
	})

	_, err := coord.Book(context.Background(), BookInput{
		PatientID:   uuid.New(),
		ProviderID:  f.providerID,
		ScheduledAt: f.at(9, 0),
	})

	var storageErr *apperr.StorageError
	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &storageErr)
	assert.False(t, errors.As(err, &conflict))
	assert.ErrorIs(t, err, dbDown)
}

func TestCancel_ReleasesSlot(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	patient := uuid.New()

	appt := f.book(t, f.at(9, 0))

	cancelled, err := f.coord.Cancel(ctx, appt.ID, CancelInput{
		Reason: "feeling better",
		Actor:  Actor{UserID: patient, Role: RolePatient},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, cancelled.State)
	assert.Equal(t, "feeling better", cancelled.CancellationReason)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, patient, *cancelled.CancelledBy)

	again := f.book(t, f.at(9, 0))
	assert.NotEqual(t, appt.ID, again.ID)
}

func TestCancel_Cutoff(t *testing.T) {
	tests := []struct {
		name     string
		actor    func(f *fixture) Actor
		override bool
		wantErr  bool
	}{
		{name: "patient inside cutoff", actor: func(*fixture) Actor { return Actor{UserID: uuid.New(), Role: RolePatient} }, wantErr: true},
		{name: "the appointment's provider", actor: func(f *fixture) Actor { return Actor{UserID: f.providerID, Role: RoleProvider} }},
		{name: "another provider", actor: func(*fixture) Actor { return Actor{UserID: uuid.New(), Role: RoleProvider} }, wantErr: true},
		{name: "admin", actor: func(*fixture) Actor { return Actor{UserID: uuid.New(), Role: RoleAdmin} }},
		{name: "override", actor: func(*fixture) Actor { return Actor{Role: RolePatient} }, override: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			appt := f.book(t, f.at(9, 0))

			// 90 minutes before the appointment, inside the 2h cutoff
			f.now = f.at(7, 30)

			_, err := f.coord.Cancel(context.Background(), appt.ID, CancelInput{Actor: tt.actor(f), Override: tt.override})
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			var windowErr *apperr.CancellationWindowError
			require.ErrorAs(t, err, &windowErr)
			assert.Equal(t, 2*time.Hour, windowErr.Cutoff)

			current, err := f.coord.Get(context.Background(), appt.ID)
			require.NoError(t, err)
			assert.Equal(t, StateScheduled, current.State)
		})
	}
}

func TestCancel_TerminalState(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	appt := f.book(t, f.at(9, 0))

	_, err := f.coord.Cancel(ctx, appt.ID, CancelInput{Actor: Actor{Role: RoleAdmin}})
	require.NoError(t, err)

	var transition *apperr.InvalidTransitionError
	_, err = f.coord.Cancel(ctx, appt.ID, CancelInput{Actor: Actor{Role: RoleAdmin}})
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, string(StateCancelled), transition.From)

	_, err = f.coord.Confirm(ctx, appt.ID)
	assert.ErrorAs(t, err, &transition)
}

func TestConfirm(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	appt := f.book(t, f.at(9, 0))

	confirmed, err := f.coord.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, confirmed.State)

	var transition *apperr.InvalidTransitionError
	_, err = f.coord.Confirm(ctx, appt.ID)
	assert.ErrorAs(t, err, &transition)

	_, err = f.coord.Confirm(ctx, uuid.New())
	var nf *apperr.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestReschedule_ConflictLeavesOriginalUntouched(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	mine := f.book(t, f.at(9, 0))
	f.book(t, f.at(10, 0))

	_, err := f.coord.Reschedule(ctx, mine.ID, RescheduleInput{
		NewScheduledAt: f.at(10, 0),
		Actor:          Actor{UserID: mine.PatientID, Role: RolePatient},
	})
	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)

	current, err := f.coord.Get(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, current.State)
	assert.Equal(t, f.at(9, 0), current.ScheduledAt)
	assert.Nil(t, current.RescheduledToID)
}

func TestReschedule_MovesToNewSlot(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	orig := f.book(t, f.at(9, 0))
	_, err := f.coord.Confirm(ctx, orig.ID)
	require.NoError(t, err)

	moved, err := f.coord.Reschedule(ctx, orig.ID, RescheduleInput{
		NewScheduledAt: f.at(11, 0),
		Actor:          Actor{UserID: orig.PatientID, Role: RolePatient},
	})
	require.NoError(t, err)

	assert.NotEqual(t, orig.ID, moved.ID)
	assert.Equal(t, StateScheduled, moved.State)
	assert.Equal(t, f.at(11, 0), moved.ScheduledAt)
	assert.Equal(t, orig.PatientID, moved.PatientID)
	require.NotNil(t, moved.RescheduledFromID)
	assert.Equal(t, orig.ID, *moved.RescheduledFromID)

	old, err := f.coord.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, old.State)
	require.NotNil(t, old.RescheduledToID)
	assert.Equal(t, moved.ID, *old.RescheduledToID)

	// the old slot is free again
	f.book(t, f.at(9, 0))
}

func TestReschedule_InsideCutoff(t *testing.T) {
	f := newFixture(t, 1)
	orig := f.book(t, f.at(9, 0))
	f.now = f.at(8, 0)

	_, err := f.coord.Reschedule(context.Background(), orig.ID, RescheduleInput{
		NewScheduledAt: f.at(12, 0),
		Actor:          Actor{UserID: orig.PatientID, Role: RolePatient},
	})
	var windowErr *apperr.CancellationWindowError
	assert.ErrorAs(t, err, &windowErr)
}

func TestLifecycle_CompleteAndNoShow(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	appt := f.book(t, f.at(9, 0))

	var transition *apperr.InvalidTransitionError
	_, err := f.coord.MarkCompleted(ctx, appt.ID, "")
	require.ErrorAs(t, err, &transition)
	assert.Contains(t, transition.Action, "before its scheduled time")

	// start needs a confirmed appointment
	f.now = f.at(9, 5)
	_, err = f.coord.Start(ctx, appt.ID)
	require.ErrorAs(t, err, &transition)

	_, err = f.coord.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	started, err := f.coord.Start(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, started.State)

	_, err = f.coord.MarkNoShow(ctx, appt.ID)
	require.ErrorAs(t, err, &transition)

	done, err := f.coord.MarkCompleted(ctx, appt.ID, " all good ")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, done.State)
	assert.Equal(t, "all good", done.ProviderNotes)

	other := f.book(t, f.at(10, 0))
	f.now = f.at(10, 30)
	noShow, err := f.coord.MarkNoShow(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNoShow, noShow.State)
}

func TestSweepNoShows(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	early := f.book(t, f.at(9, 0))
	late := f.book(t, f.at(15, 0))
	cancelled := f.book(t, f.at(10, 0))
	_, err := f.coord.Cancel(ctx, cancelled.ID, CancelInput{Actor: Actor{Role: RoleAdmin}})
	require.NoError(t, err)

	f.now = f.at(12, 0)
	marked, err := f.coord.SweepNoShows(ctx, 30*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	got, err := f.coord.Get(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNoShow, got.State)

	got, err = f.coord.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, got.State)
}

func TestListByPatient(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	patient := uuid.New()

	for _, hour := range []int{11, 9, 10} {
		_, err := f.coord.Book(ctx, BookInput{PatientID: patient, ProviderID: f.providerID, ScheduledAt: f.at(hour, 0)})
		require.NoError(t, err)
	}
	f.book(t, f.at(12, 0))

	all, err := f.coord.ListByPatient(ctx, patient, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, f.at(9, 0), all[0].ScheduledAt)

	page, err := f.coord.ListByPatient(ctx, patient, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, f.at(11, 0), page[0].ScheduledAt)
}

func TestTransitions_RejectedStatesLeaveAppointmentUnchanged(t *testing.T) {
	ctx := context.Background()
	admin := Actor{Role: RoleAdmin}

	// reach drives a fresh 09:00 booking into state and leaves the clock at 09:05.
	reach := func(t *testing.T, f *fixture, state State) *Appointment {
		t.Helper()
		appt := f.book(t, f.at(9, 0))

		var err error
		switch state {
		case StateConfirmed:
			_, err = f.coord.Confirm(ctx, appt.ID)
		case StateInProgress:
			_, err = f.coord.Confirm(ctx, appt.ID)
			require.NoError(t, err)
			f.now = f.at(9, 5)
			_, err = f.coord.Start(ctx, appt.ID)
		case StateCompleted:
			f.now = f.at(9, 5)
			_, err = f.coord.MarkCompleted(ctx, appt.ID, "")
		case StateCancelled:
			_, err = f.coord.Cancel(ctx, appt.ID, CancelInput{Actor: admin})
		case StateNoShow:
			f.now = f.at(9, 5)
			_, err = f.coord.MarkNoShow(ctx, appt.ID)
		}
		require.NoError(t, err)
		f.now = f.at(9, 5)
		return appt
	}

	actions := map[string]func(f *fixture, id uuid.UUID) error{
		"confirm": func(f *fixture, id uuid.UUID) error {
			_, err := f.coord.Confirm(ctx, id)
			return err
		},
		"start": func(f *fixture, id uuid.UUID) error {
			_, err := f.coord.Start(ctx, id)
			return err
		},
		"cancel": func(f *fixture, id uuid.UUID) error {
			_, err := f.coord.Cancel(ctx, id, CancelInput{Actor: admin})
			return err
		},
		"reschedule": func(f *fixture, id uuid.UUID) error {
			_, err := f.coord.Reschedule(ctx, id, RescheduleInput{NewScheduledAt: f.at(12, 0), Actor: admin})
			return err
		},
		"complete": func(f *fixture, id uuid.UUID) error {
			_, err := f.coord.MarkCompleted(ctx, id, "")
			return err
		},
		"no-show": func(f *fixture, id uuid.UUID) error {
			_, err := f.coord.MarkNoShow(ctx, id)
			return err
		},
	}

	all := []string{"confirm", "start", "cancel", "reschedule", "complete", "no-show"}
	cases := []struct {
		state    State
		rejected []string
	}{
		{StateConfirmed, []string{"confirm"}},
		{StateInProgress, []string{"confirm", "start", "cancel", "reschedule", "no-show"}},
		{StateCompleted, all},
		{StateCancelled, all},
		{StateNoShow, all},
	}

	for _, tc := range cases {
		for _, name := range tc.rejected {
			t.Run(string(tc.state)+"/"+name, func(t *testing.T) {
				f := newFixture(t, 1)
				appt := reach(t, f, tc.state)
				eventsBefore := len(f.repo.Events())

				err := actions[name](f, appt.ID)
				var transition *apperr.InvalidTransitionError
				require.ErrorAs(t, err, &transition)
				assert.Equal(t, string(tc.state), transition.From)

				current, err := f.coord.Get(ctx, appt.ID)
				require.NoError(t, err)
				assert.Equal(t, tc.state, current.State)
				assert.Nil(t, current.RescheduledToID)
				assert.Len(t, f.repo.Events(), eventsBefore)
			})
		}
	}
}

func TestReschedule_RacesBookingsForTargetSlot(t *testing.T) {
	for round := 0; round < 10; round++ {
		f := newFixture(t, 1)
		ctx := context.Background()

		orig := f.book(t, f.at(9, 0))
		_, err := f.coord.Confirm(ctx, orig.ID)
		require.NoError(t, err)
		target := f.at(11, 0)

		const n = 10
		var (
			wg            sync.WaitGroup
			mu            sync.Mutex
			winners       int
			rescheduleWon bool
		)

		record := func(err error, reschedule bool) {
			mu.Lock()
			defer mu.Unlock()
			var conflict *apperr.ConflictError
			switch {
			case err == nil:
				winners++
				rescheduleWon = reschedule
			case errors.As(err, &conflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}

		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.coord.Book(ctx, BookInput{
					PatientID:   uuid.New(),
					ProviderID:  f.providerID,
					ScheduledAt: target,
				})
				record(err, false)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.coord.Reschedule(ctx, orig.ID, RescheduleInput{
				NewScheduledAt: target,
				Actor:          Actor{UserID: orig.PatientID, Role: RolePatient},
			})
			record(err, true)
		}()
		close(start)
		wg.Wait()

		require.Equal(t, 1, winners)

		current, err := f.coord.Get(ctx, orig.ID)
		require.NoError(t, err)
		if rescheduleWon {
			assert.Equal(t, StateCancelled, current.State)
			assert.NotNil(t, current.RescheduledToID)
		} else {
			assert.Equal(t, StateConfirmed, current.State)
			assert.Equal(t, f.at(9, 0), current.ScheduledAt)
			assert.Nil(t, current.RescheduledToID)
		}

		blocking, err := f.repo.ListBlocking(ctx, f.providerID, target, target.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, blocking, 1)
	}
}
