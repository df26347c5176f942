package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrProviderNotFound = errors.New("provider not found")

// Store is the read side used by availability and booking. Schedules are
// owned by provider management; this subsystem only reads them.
type Store interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetSchedule(ctx context.Context, providerID uuid.UUID) (*ProviderSchedule, error)
}

// Writer is the provider-management side, used by onboarding and seeding.
type Writer interface {
	Store

	CreateProvider(ctx context.Context, p Provider) (*Provider, error)
	ListProviders(ctx context.Context, limit int) ([]Provider, error)

	// Supersede end-dates every entry still open at effectiveFrom and adds
	// entries as the new pattern from that date on.
	Supersede(ctx context.Context, providerID uuid.UUID, entries []WeeklyAvailability, effectiveFrom time.Time) error
	AddException(ctx context.Context, ex Exception) error
}

// supersede applies the end-dating rule to current and returns the combined
// entry list. Shared by the store implementations.
func supersede(providerID uuid.UUID, current, next []WeeklyAvailability, effectiveFrom time.Time) []WeeklyAvailability {
	from := DayStart(effectiveFrom)
	out := make([]WeeklyAvailability, 0, len(current)+len(next))

	for _, e := range current {
		if e.EffectiveUntil == nil || DateKey(*e.EffectiveUntil) > DateKey(from) {
			until := from
			if DateKey(e.EffectiveFrom) > DateKey(from) {
				until = e.EffectiveFrom
			}
			e.EffectiveUntil = &until
		}
		out = append(out, e)
	}

	now := time.Now()
	for _, e := range next {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.ProviderID = providerID
		e.EffectiveFrom = from
		e.EffectiveUntil = nil
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		out = append(out, e)
	}

	return out
}
