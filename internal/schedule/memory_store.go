package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps schedules in process. It backs the memory storage driver
// and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	providers  map[uuid.UUID]Provider
	entries    map[uuid.UUID][]WeeklyAvailability
	exceptions map[uuid.UUID][]Exception
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers:  make(map[uuid.UUID]Provider),
		entries:    make(map[uuid.UUID][]WeeklyAvailability),
		exceptions: make(map[uuid.UUID][]Exception),
	}
}

func (s *MemoryStore) CreateProvider(_ context.Context, p Provider) (*Provider, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	s.mu.Lock()
	s.providers[p.ID] = p
	s.mu.Unlock()

	return &p, nil
}

func (s *MemoryStore) GetProvider(_ context.Context, id uuid.UUID) (*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ListProviders(_ context.Context, limit int) ([]Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetSchedule(_ context.Context, providerID uuid.UUID) (*ProviderSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.providers[providerID]; !ok {
		return nil, ErrProviderNotFound
	}

	sched := &ProviderSchedule{
		ProviderID: providerID,
		Entries:    append([]WeeklyAvailability(nil), s.entries[providerID]...),
		Exceptions: append([]Exception(nil), s.exceptions[providerID]...),
	}
	if err := Validate(providerID.String(), sched.Entries); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *MemoryStore) Supersede(_ context.Context, providerID uuid.UUID, entries []WeeklyAvailability, effectiveFrom time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[providerID]; !ok {
		return ErrProviderNotFound
	}

	combined := supersede(providerID, s.entries[providerID], entries, effectiveFrom)
	if err := Validate(providerID.String(), combined); err != nil {
		return err
	}
	s.entries[providerID] = combined
	return nil
}

func (s *MemoryStore) AddException(_ context.Context, ex Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[ex.ProviderID]; !ok {
		return ErrProviderNotFound
	}
	ex.Date = DayStart(ex.Date)
	s.exceptions[ex.ProviderID] = append(s.exceptions[ex.ProviderID], ex)
	return nil
}
