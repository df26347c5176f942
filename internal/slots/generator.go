// Package slots projects a provider's weekly availability over a date range
// and removes whatever is already taken. Everything here is pure.
package slots

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-booking-engine/internal/schedule"
)

// Offer is a bookable start time. Offers are built fresh per query and are
// never persisted.
type Offer struct {
	ProviderID      uuid.UUID    `json:"provider_id"`
	Datetime        time.Time    `json:"datetime"`
	DurationMinutes int          `json:"duration_minutes"`
	DayOfWeek       time.Weekday `json:"day_of_week"`
	IsAvailable     bool         `json:"is_available"`
}

// Booking is the part of a blocking appointment the generator needs.
type Booking struct {
	ProviderID      uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
}

func (b Booking) end() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// Generate walks every calendar day in [from, from+horizonDays) and emits the
// open slots of sched in ascending order. A slot is dropped when a blocking
// booking starts exactly on it, or when the bookings overlapping it already
// reach the entry's MaxConcurrentPerSlot. A trailing partial slot is never
// emitted. Days with nothing open produce nothing.
func Generate(sched *schedule.ProviderSchedule, blocking []Booking, from time.Time, horizonDays int) []Offer {
	if sched == nil || horizonDays <= 0 {
		return nil
	}

	starts := make(map[int64]struct{}, len(blocking))
	for _, b := range blocking {
		if b.ProviderID == sched.ProviderID {
			starts[b.ScheduledAt.Unix()] = struct{}{}
		}
	}

	var out []Offer
	first := schedule.DayStart(from)

	for i := 0; i < horizonDays; i++ {
		day := first.AddDate(0, 0, i)

		for _, entry := range sched.EntriesFor(day) {
			step := entry.SlotDurationMinutes
			for m := entry.StartMinute; m+step <= entry.EndMinute; m += step {
				at := schedule.At(day, m)
				if at.Before(from) {
					continue
				}
				if _, taken := starts[at.Unix()]; taken {
					continue
				}
				if overlapping(blocking, sched.ProviderID, at, at.Add(entry.SlotDuration())) >= entry.MaxConcurrentPerSlot {
					continue
				}

				out = append(out, Offer{
					ProviderID:      sched.ProviderID,
					Datetime:        at,
					DurationMinutes: step,
					DayOfWeek:       day.Weekday(),
					IsAvailable:     true,
				})
			}
		}
	}

	return out
}

func overlapping(blocking []Booking, providerID uuid.UUID, start, end time.Time) int {
	n := 0
	for _, b := range blocking {
		if b.ProviderID != providerID {
			continue
		}
		if b.ScheduledAt.Before(end) && b.end().After(start) {
			n++
		}
	}
	return n
}
