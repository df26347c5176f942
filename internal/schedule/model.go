package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const minutesPerDay = 24 * 60

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WeeklyAvailability is one recurring working window. Start and end are minutes
// from midnight in the process timezone. Entries are end-dated rather than
// deleted so that already booked appointments keep their history.
type WeeklyAvailability struct {
	ID                   uuid.UUID
	ProviderID           uuid.UUID
	DayOfWeek            time.Weekday
	StartMinute          int
	EndMinute            int
	SlotDurationMinutes  int
	MaxConcurrentPerSlot int
	EffectiveFrom        time.Time
	EffectiveUntil       *time.Time
	CreatedAt            time.Time
}

// Exception marks a calendar date on which the provider does not work.
type Exception struct {
	ProviderID uuid.UUID
	Date       time.Time
	Reason     string
}

type ProviderSchedule struct {
	ProviderID uuid.UUID
	Entries    []WeeklyAvailability
	Exceptions []Exception
}

func (w WeeklyAvailability) SlotDuration() time.Duration {
	return time.Duration(w.SlotDurationMinutes) * time.Minute
}

// ActiveOn reports whether the entry applies to the calendar date of day.
func (w WeeklyAvailability) ActiveOn(day time.Time) bool {
	d := DateKey(day)
	if d < DateKey(w.EffectiveFrom) {
		return false
	}
	if w.EffectiveUntil != nil && d >= DateKey(*w.EffectiveUntil) {
		return false
	}
	return true
}

// EntriesFor returns the entries that apply on day, ordered by start time.
// A day covered by an exception has no entries.
func (s *ProviderSchedule) EntriesFor(day time.Time) []WeeklyAvailability {
	if s == nil || s.IsException(day) {
		return nil
	}

	var out []WeeklyAvailability
	for _, e := range s.Entries {
		if e.DayOfWeek == day.Weekday() && e.ActiveOn(day) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartMinute < out[j].StartMinute
	})
	return out
}

func (s *ProviderSchedule) IsException(day time.Time) bool {
	d := DateKey(day)
	for _, ex := range s.Exceptions {
		if DateKey(ex.Date) == d {
			return true
		}
	}
	return false
}

// SlotAt finds the entry whose slot grid contains at as a start time. The
// returned reason is empty on success.
func (s *ProviderSchedule) SlotAt(at time.Time) (WeeklyAvailability, string) {
	if at.Second() != 0 || at.Nanosecond() != 0 {
		return WeeklyAvailability{}, "slot start must be on a whole minute"
	}

	entries := s.EntriesFor(at)
	if len(entries) == 0 {
		return WeeklyAvailability{}, "provider is not working on " + at.Format("Monday 2006-01-02")
	}

	minute := MinuteOfDay(at)
	for _, e := range entries {
		if minute < e.StartMinute || minute >= e.EndMinute {
			continue
		}
		if (minute-e.StartMinute)%e.SlotDurationMinutes != 0 {
			return WeeklyAvailability{}, fmt.Sprintf("%s is not on the %d minute slot grid starting %s",
				FormatClock(minute), e.SlotDurationMinutes, FormatClock(e.StartMinute))
		}
		if minute+e.SlotDurationMinutes > e.EndMinute {
			return WeeklyAvailability{}, "slot would end after " + FormatClock(e.EndMinute)
		}
		return e, ""
	}

	return WeeklyAvailability{}, FormatClock(minute) + " is outside the provider's working hours"
}

// DateKey turns the calendar date of t into a sortable integer (yyyymmdd),
// ignoring location so DATE columns compare cleanly against local times.
func DateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// At places a minute-of-day on the calendar date of day as wall-clock time,
// so a DST change earlier that day does not shift it.
func At(day time.Time, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, minute, 0, 0, day.Location())
}

// FormatClock renders minutes from midnight as HH:MM.
func FormatClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseClock parses HH:MM into minutes from midnight. 24:00 is accepted as
// the end of the day.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h*60+m > minutesPerDay {
		return 0, fmt.Errorf("parse clock %q: out of range", s)
	}
	return h*60 + m, nil
}
