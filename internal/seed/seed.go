// Package seed fills a schedule store with fake providers and weekday
// working hours.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/provider-booking-engine/internal/schedule"
)

var specialties = []string{
	"Physical Therapy",
	"Occupational Therapy",
	"Speech Therapy",
	"General Practice",
	"Cardiology",
	"Dermatology",
	"Pediatrics",
	"Psychiatry",
	"Nursing",
	"Nutrition",
}

// template is one kind of working week handed out to seeded providers.
type template struct {
	days          []time.Weekday
	start, end    int
	slotMinutes   int
	maxConcurrent int
}

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

var templates = []template{
	{days: weekdays, start: 9 * 60, end: 17 * 60, slotMinutes: 60, maxConcurrent: 1},
	{days: weekdays, start: 8 * 60, end: 12 * 60, slotMinutes: 30, maxConcurrent: 1},
	{days: weekdays, start: 13 * 60, end: 18 * 60, slotMinutes: 45, maxConcurrent: 2},
	{days: []time.Weekday{time.Saturday}, start: 9 * 60, end: 13 * 60, slotMinutes: 30, maxConcurrent: 1},
}

type Options struct {
	Providers int
	// EffectiveFrom is the first date the generated schedules apply to.
	EffectiveFrom time.Time
	Faker         *gofakeit.Faker
}

// Providers creates opts.Providers providers, each with a weekday schedule and
// for every fourth one an extra Saturday morning.
func Providers(ctx context.Context, w schedule.Writer, opts Options) ([]schedule.Provider, error) {
	faker := opts.Faker
	if faker == nil {
		faker = gofakeit.New(0)
	}
	from := opts.EffectiveFrom
	if from.IsZero() {
		from = time.Now()
	}

	log.Ctx(ctx).Info().Int("count", opts.Providers).Msg("seeding providers")

	created := make([]schedule.Provider, 0, opts.Providers)
	for i := 0; i < opts.Providers; i++ {
		specialty := specialties[faker.Number(0, len(specialties)-1)]
		p, err := w.CreateProvider(ctx, schedule.Provider{
			Name:      faker.Name(),
			Specialty: &specialty,
		})
		if err != nil {
			return created, fmt.Errorf("create provider: %w", err)
		}

		// every provider gets one of the weekday patterns
		entries := entriesFor(templates[i%3])
		if i%4 == 3 {
			entries = append(entries, entriesFor(templates[3])...)
		}

		if err := w.Supersede(ctx, p.ID, entries, from); err != nil {
			return created, fmt.Errorf("schedule provider %s: %w", p.ID, err)
		}

		created = append(created, *p)
	}

	log.Ctx(ctx).Info().Int("count", len(created)).Msg("providers seeded")
	return created, nil
}

func entriesFor(t template) []schedule.WeeklyAvailability {
	out := make([]schedule.WeeklyAvailability, 0, len(t.days))
	for _, d := range t.days {
		out = append(out, schedule.WeeklyAvailability{
			DayOfWeek:            d,
			StartMinute:          t.start,
			EndMinute:            t.end,
			SlotDurationMinutes:  t.slotMinutes,
			MaxConcurrentPerSlot: t.maxConcurrent,
		})
	}
	return out
}
