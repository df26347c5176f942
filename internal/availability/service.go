// Package availability answers "when can I book this provider" by running
// the slot generator over the schedule and booking stores. It never writes.
package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/provider-booking-engine/internal/apperr"
	"github.com/hackgods/provider-booking-engine/internal/appointment"
	"github.com/hackgods/provider-booking-engine/internal/schedule"
	"github.com/hackgods/provider-booking-engine/internal/slots"
)

// ErrCacheMiss is returned by a Cache that has no entry for a key.
var ErrCacheMiss = errors.New("cache miss")

// BookingReader is the read side of the booking store.
type BookingReader interface {
	ListBlocking(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

// Cache stores serialized results for a short time. A cached answer may be
// stale the moment another booking commits; book re-checks the slot anyway.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Options struct {
	MaxHorizonDays int
	DefaultLimit   int
	CacheTTL       time.Duration
	Location       *time.Location
	Clock          func() time.Time
}

type Service struct {
	schedules schedule.Store
	bookings  BookingReader
	cache     Cache
	opts      Options
}

// NewService wires the query service. cache may be nil.
func NewService(schedules schedule.Store, bookings BookingReader, cache Cache, opts Options) *Service {
	if opts.MaxHorizonDays <= 0 {
		opts.MaxHorizonDays = 90
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{schedules: schedules, bookings: bookings, cache: cache, opts: opts}
}

type Query struct {
	ProviderID  uuid.UUID
	From        time.Time
	HorizonDays int
	// Limit caps the number of offers; zero means the default, negative means all.
	Limit int
}

// GetAvailability returns open slots for the provider from the calendar day
// of q.From for q.HorizonDays days, in ascending order. Slots already in the
// past are left out.
func (s *Service) GetAvailability(ctx context.Context, q Query) ([]slots.Offer, error) {
	if q.HorizonDays <= 0 || q.HorizonDays > s.opts.MaxHorizonDays {
		return nil, &apperr.ValidationError{
			Field:  "days",
			Reason: fmt.Sprintf("must be between 1 and %d", s.opts.MaxHorizonDays),
		}
	}

	limit := q.Limit
	if limit == 0 {
		limit = s.opts.DefaultLimit
	}

	from := q.From.In(s.opts.Location)
	day := schedule.DayStart(from)
	now := s.opts.Clock().In(s.opts.Location)
	if from.Before(now) {
		from = now
	}

	key := cacheKey(q.ProviderID, day, q.HorizonDays)
	if offers, ok := s.fromCache(ctx, key); ok {
		return trim(dropBefore(offers, from), limit), nil
	}

	sched, err := s.schedules.GetSchedule(ctx, q.ProviderID)
	if err != nil {
		var cfgErr *apperr.ConfigurationError
		switch {
		case errors.Is(err, schedule.ErrProviderNotFound):
			return nil, &apperr.NotFoundError{Resource: "provider", ID: q.ProviderID.String()}
		case errors.As(err, &cfgErr):
			return nil, err
		}
		return nil, apperr.Storage("load provider schedule", err)
	}

	end := day.AddDate(0, 0, q.HorizonDays)
	appts, err := s.bookings.ListBlocking(ctx, q.ProviderID, day, end)
	if err != nil {
		return nil, apperr.Storage("list blocking appointments", err)
	}

	blocking := make([]slots.Booking, len(appts))
	for i, a := range appts {
		blocking[i] = slots.Booking{
			ProviderID:      a.ProviderID,
			ScheduledAt:     a.ScheduledAt,
			DurationMinutes: a.DurationMinutes,
		}
	}

	// generate from the start of the day so the cached copy serves later callers too
	offers := slots.Generate(sched, blocking, day, q.HorizonDays)
	s.toCache(ctx, key, offers)

	return trim(dropBefore(offers, from), limit), nil
}

func (s *Service) fromCache(ctx context.Context, key string) ([]slots.Offer, bool) {
	if s.cache == nil || s.opts.CacheTTL <= 0 {
		return nil, false
	}

	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("availability cache read failed")
		}
		return nil, false
	}

	var offers []slots.Offer
	if err := json.Unmarshal(data, &offers); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("availability cache entry unreadable")
		return nil, false
	}
	return offers, true
}

func (s *Service) toCache(ctx context.Context, key string, offers []slots.Offer) {
	if s.cache == nil || s.opts.CacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(offers)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.opts.CacheTTL); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("availability cache write failed")
	}
}

func cacheKey(providerID uuid.UUID, day time.Time, horizon int) string {
	return fmt.Sprintf("availability:%s:%s:%d", providerID, day.Format("2006-01-02"), horizon)
}

func dropBefore(offers []slots.Offer, from time.Time) []slots.Offer {
	i := 0
	for i < len(offers) && offers[i].Datetime.Before(from) {
		i++
	}
	return offers[i:]
}

func trim(offers []slots.Offer, limit int) []slots.Offer {
	if offers == nil {
		offers = []slots.Offer{}
	}
	if limit > 0 && len(offers) > limit {
		return offers[:limit]
	}
	return offers
}
