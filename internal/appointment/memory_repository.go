package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is the in-process booking store. One mutex covers every
// check-and-insert, which is what makes it a storage-level guard.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Appointment
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[uuid.UUID]*Appointment),
		now:  time.Now,
	}
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListBlocking(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.filter(func(a *Appointment) bool {
		return a.ProviderID == providerID && a.State.Blocking() &&
			a.ScheduledAt.Before(to) && a.EndsAt().After(from)
	}), nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.filter(func(a *Appointment) bool { return a.PatientID == patientID })
	if offset >= len(all) {
		return []Appointment{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) ListByProvider(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.filter(func(a *Appointment) bool {
		return a.ProviderID == providerID && !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to)
	}), nil
}

func (r *MemoryRepository) Insert(_ context.Context, appt *Appointment, capacity int) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.slotFree(appt, capacity, uuid.Nil) {
		return nil, ErrSlotTaken
	}
	return r.store(appt), nil
}

func (r *MemoryRepository) UpdateState(_ context.Context, id uuid.UUID, from, to State, change Change) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.State != from {
		return nil, ErrStateChanged
	}

	applyChange(a, to, change, r.now())
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) Reschedule(_ context.Context, originalID uuid.UUID, from State, replacement *Appointment, capacity int, change Change) (*Appointment, *Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orig, ok := r.byID[originalID]
	if !ok {
		return nil, nil, ErrAppointmentNotFound
	}
	if orig.State != from {
		return nil, nil, ErrStateChanged
	}
	// the original stops blocking once cancelled, so it is ignored here
	if !r.slotFree(replacement, capacity, originalID) {
		return nil, nil, ErrSlotTaken
	}

	created := r.store(replacement)
	change.RescheduledToID = &created.ID
	applyChange(orig, StateCancelled, change, r.now())

	cancelled := *orig
	return &cancelled, created, nil
}

func (r *MemoryRepository) FindOverdue(_ context.Context, endedBefore time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.filter(func(a *Appointment) bool {
		return (a.State == StateScheduled || a.State == StateConfirmed) && a.EndsAt().Before(endedBefore)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.events...)
}

// Caller holds r.mu.
func (r *MemoryRepository) slotFree(appt *Appointment, capacity int, ignore uuid.UUID) bool {
	overlaps := 0
	for _, a := range r.byID {
		if a.ID == ignore || a.ProviderID != appt.ProviderID || !a.State.Blocking() {
			continue
		}
		if a.ScheduledAt.Equal(appt.ScheduledAt) {
			return false
		}
		if a.ScheduledAt.Before(appt.EndsAt()) && a.EndsAt().After(appt.ScheduledAt) {
			overlaps++
		}
	}
	return overlaps < capacity
}

// Caller holds r.mu.
func (r *MemoryRepository) store(appt *Appointment) *Appointment {
	cp := *appt
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	now := r.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.byID[cp.ID] = &cp

	out := cp
	return &out
}

// Caller holds r.mu.
func (r *MemoryRepository) filter(keep func(a *Appointment) bool) []Appointment {
	out := []Appointment{}
	for _, a := range r.byID {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

func applyChange(a *Appointment, to State, change Change, now time.Time) {
	a.State = to
	a.UpdatedAt = now
	if change.Reason != "" {
		a.CancellationReason = change.Reason
	}
	if change.CancelledBy != nil {
		a.CancelledBy = change.CancelledBy
	}
	if change.ProviderNotes != "" {
		a.ProviderNotes = change.ProviderNotes
	}
	if change.RescheduledToID != nil {
		a.RescheduledToID = change.RescheduledToID
	}
}
