package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var specialty *string

	err := row.Scan(&p.ID, &p.Name, &specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	p.Specialty = specialty
	return &p, nil
}

func scanAvailability(row pgx.Row) (WeeklyAvailability, error) {
	var w WeeklyAvailability
	var day int16
	var until *time.Time

	err := row.Scan(
		&w.ID,
		&w.ProviderID,
		&day,
		&w.StartMinute,
		&w.EndMinute,
		&w.SlotDurationMinutes,
		&w.MaxConcurrentPerSlot,
		&w.EffectiveFrom,
		&until,
		&w.CreatedAt,
	)
	if err != nil {
		return WeeklyAvailability{}, err
	}

	w.DayOfWeek = time.Weekday(day)
	w.EffectiveUntil = until
	return w, nil
}

const availabilityColumns = `id, provider_id, day_of_week, start_minute, end_minute,
	slot_duration_minutes, max_concurrent_per_slot, effective_from, effective_until, created_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listAvailability(ctx context.Context, q querier, providerID uuid.UUID, forUpdate bool) ([]WeeklyAvailability, error) {
	sql := `SELECT ` + availabilityColumns + `
		FROM provider_availability
		WHERE provider_id = $1
		ORDER BY day_of_week, start_minute, effective_from`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, sql, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WeeklyAvailability
	for rows.Next() {
		w, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Interface methods

func (s *PgStore) CreateProvider(ctx context.Context, p Provider) (*Provider, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO providers (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, name, specialty, created_at, updated_at
	`, p.ID, p.Name, p.Specialty)
	return scanProvider(row)
}

func (s *PgStore) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (s *PgStore) ListProviders(ctx context.Context, limit int) ([]Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PgStore) GetSchedule(ctx context.Context, providerID uuid.UUID) (*ProviderSchedule, error) {
	if _, err := s.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}

	entries, err := listAvailability(ctx, s.pool, providerID, false)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	if err := Validate(providerID.String(), entries); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT provider_id, exception_date, reason
		FROM provider_schedule_exceptions
		WHERE provider_id = $1
		ORDER BY exception_date
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("load exceptions: %w", err)
	}
	defer rows.Close()

	sched := &ProviderSchedule{ProviderID: providerID, Entries: entries}
	for rows.Next() {
		var ex Exception
		if err := rows.Scan(&ex.ProviderID, &ex.Date, &ex.Reason); err != nil {
			return nil, err
		}
		sched.Exceptions = append(sched.Exceptions, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sched, nil
}

func (s *PgStore) Supersede(ctx context.Context, providerID uuid.UUID, entries []WeeklyAvailability, effectiveFrom time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// serialize schedule edits per provider
	if _, err := scanProvider(tx.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
		FOR UPDATE
	`, providerID)); err != nil {
		return err
	}

	current, err := listAvailability(ctx, tx, providerID, true)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}

	combined := supersede(providerID, current, entries, effectiveFrom)
	if err := Validate(providerID.String(), combined); err != nil {
		return err
	}

	for _, e := range combined[:len(current)] {
		if _, err := tx.Exec(ctx, `
			UPDATE provider_availability
			SET effective_until = $2
			WHERE id = $1
		`, e.ID, e.EffectiveUntil); err != nil {
			return fmt.Errorf("end-date availability: %w", err)
		}
	}

	for _, e := range combined[len(current):] {
		if _, err := tx.Exec(ctx, `
			INSERT INTO provider_availability (`+availabilityColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, e.ID, e.ProviderID, int16(e.DayOfWeek), e.StartMinute, e.EndMinute,
			e.SlotDurationMinutes, e.MaxConcurrentPerSlot, e.EffectiveFrom, e.EffectiveUntil, e.CreatedAt); err != nil {
			return fmt.Errorf("insert availability: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PgStore) AddException(ctx context.Context, ex Exception) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provider_schedule_exceptions (provider_id, exception_date, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_id, exception_date) DO UPDATE SET reason = EXCLUDED.reason
	`, ex.ProviderID, DayStart(ex.Date), ex.Reason)
	if err != nil {
		return fmt.Errorf("insert schedule exception: %w", err)
	}
	return nil
}
