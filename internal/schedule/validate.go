package schedule

import (
	"fmt"

	"github.com/hackgods/provider-booking-engine/internal/apperr"
)

// Validate checks a provider's entries for malformed windows and for
// overlapping entries on the same weekday. Failures are *apperr.ConfigurationError.
func Validate(providerID string, entries []WeeklyAvailability) error {
	for _, e := range entries {
		if err := validateEntry(providerID, e); err != nil {
			return err
		}
	}

	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			if a.DayOfWeek != b.DayOfWeek || !effectiveOverlap(a, b) {
				continue
			}
			if a.StartMinute < b.EndMinute && b.StartMinute < a.EndMinute {
				return &apperr.ConfigurationError{
					ProviderID: providerID,
					Reason: fmt.Sprintf("%s windows %s-%s and %s-%s overlap",
						a.DayOfWeek, FormatClock(a.StartMinute), FormatClock(a.EndMinute),
						FormatClock(b.StartMinute), FormatClock(b.EndMinute)),
				}
			}
		}
	}

	return nil
}

func validateEntry(providerID string, e WeeklyAvailability) error {
	fail := func(format string, args ...any) error {
		return &apperr.ConfigurationError{ProviderID: providerID, Reason: fmt.Sprintf(format, args...)}
	}

	switch {
	case e.DayOfWeek < 0 || e.DayOfWeek > 6:
		return fail("day_of_week %d out of range 0-6", e.DayOfWeek)
	case e.StartMinute < 0 || e.EndMinute > minutesPerDay:
		return fail("window %d-%d is outside the day", e.StartMinute, e.EndMinute)
	case e.EndMinute <= e.StartMinute:
		return fail("%s window ends at %s before it starts at %s",
			e.DayOfWeek, FormatClock(e.EndMinute), FormatClock(e.StartMinute))
	case e.SlotDurationMinutes <= 0:
		return fail("slot duration must be positive, got %d", e.SlotDurationMinutes)
	case e.SlotDurationMinutes > e.EndMinute-e.StartMinute:
		return fail("slot duration %d exceeds the %s window", e.SlotDurationMinutes, e.DayOfWeek)
	case e.MaxConcurrentPerSlot < 1:
		return fail("max concurrent per slot must be at least 1, got %d", e.MaxConcurrentPerSlot)
	case e.EffectiveUntil != nil && DateKey(*e.EffectiveUntil) < DateKey(e.EffectiveFrom):
		return fail("effective_until is before effective_from")
	}

	return nil
}

func effectiveOverlap(a, b WeeklyAvailability) bool {
	aFrom, bFrom := DateKey(a.EffectiveFrom), DateKey(b.EffectiveFrom)
	aUntil, bUntil := openEnd(a), openEnd(b)
	if aFrom >= aUntil || bFrom >= bUntil {
		return false
	}
	return aFrom < bUntil && bFrom < aUntil
}

func openEnd(w WeeklyAvailability) int {
	if w.EffectiveUntil == nil {
		return 99991231
	}
	return DateKey(*w.EffectiveUntil)
}
