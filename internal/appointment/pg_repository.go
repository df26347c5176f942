package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// blockingSlotIndex is the partial unique index on (provider_id, scheduled_at)
// over blocking states; see internal/db/schema.sql.
const blockingSlotIndex = "appointments_provider_slot_blocking"

const appointmentColumns = `id, patient_id, provider_id, scheduled_at, duration_minutes, type,
	location_mode, state, notes, provider_notes, cancellation_reason, cancelled_by,
	rescheduled_from_id, rescheduled_to_id, confirmation_code, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Type,
		&a.LocationMode,
		&a.State,
		&a.Notes,
		&a.ProviderNotes,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.RescheduledFromID,
		&a.RescheduledToID,
		&a.ConfirmationCode,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func blockingStateNames() []string {
	names := make([]string, len(BlockingStates))
	for i, s := range BlockingStates {
		names[i] = string(s)
	}
	return names
}

// lockProvider serializes booking writes for one provider until the
// transaction ends. The unique index stays the final guard.
func lockProvider(ctx context.Context, tx pgx.Tx, providerID uuid.UUID) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", providerID.String())
	if err != nil {
		return fmt.Errorf("lock provider: %w", err)
	}
	return nil
}

func insertChecked(ctx context.Context, tx pgx.Tx, appt *Appointment, capacity int, ignore uuid.UUID) (*Appointment, error) {
	var exact, overlaps int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE scheduled_at = $2), count(*)
		FROM appointments
		WHERE provider_id = $1
		  AND state = ANY($4)
		  AND id <> $5
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_minutes) > $2
	`, appt.ProviderID, appt.ScheduledAt, appt.EndsAt(), blockingStateNames(), ignore).Scan(&exact, &overlaps)
	if err != nil {
		return nil, fmt.Errorf("check slot: %w", err)
	}
	if exact > 0 || overlaps >= capacity {
		return nil, ErrSlotTaken
	}

	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, provider_id, scheduled_at, duration_minutes, type,
			location_mode, state, notes, rescheduled_from_id, confirmation_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING `+appointmentColumns,
		id, appt.PatientID, appt.ProviderID, appt.ScheduledAt, appt.DurationMinutes, appt.Type,
		appt.LocationMode, appt.State, appt.Notes, appt.RescheduledFromID, appt.ConfirmationCode)

	created, err := scanAppointment(row)
	if err != nil {
		if isBlockingSlotViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func isBlockingSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == blockingSlotIndex
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListBlocking(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND state = ANY($4)
		  AND scheduled_at < $3
		  AND scheduled_at + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_at
	`, providerID, from, to, blockingStateNames())
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at, created_at
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at, created_at
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Insert(ctx context.Context, appt *Appointment, capacity int) (*Appointment, error) {
	var created *Appointment

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockProvider(ctx, tx, appt.ProviderID); err != nil {
			return err
		}
		a, err := insertChecked(ctx, tx, appt, capacity, uuid.Nil)
		if err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) UpdateState(ctx context.Context, id uuid.UUID, from, to State, change Change) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET state = $2,
		    cancellation_reason = COALESCE(NULLIF($4, ''), cancellation_reason),
		    cancelled_by = COALESCE($5, cancelled_by),
		    provider_notes = COALESCE(NULLIF($6, ''), provider_notes),
		    rescheduled_to_id = COALESCE($7, rescheduled_to_id),
		    updated_at = now()
		WHERE id = $1
		  AND state = $3
		RETURNING `+appointmentColumns,
		id, to, from, change.Reason, change.CancelledBy, change.ProviderNotes, change.RescheduledToID)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// distinguish a missing row from one that moved on
		if _, getErr := r.GetAppointmentByID(ctx, id); getErr == nil {
			return nil, ErrStateChanged
		}
	}
	return updated, err
}

func (r *PgRepository) Reschedule(ctx context.Context, originalID uuid.UUID, from State, replacement *Appointment, capacity int, change Change) (*Appointment, *Appointment, error) {
	var cancelled, created *Appointment

	if replacement.ID == uuid.Nil {
		replacement.ID = uuid.New()
	}
	change.RescheduledToID = &replacement.ID

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockProvider(ctx, tx, replacement.ProviderID); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET state = 'cancelled',
			    cancellation_reason = COALESCE(NULLIF($3, ''), cancellation_reason),
			    cancelled_by = COALESCE($4, cancelled_by),
			    rescheduled_to_id = $5,
			    updated_at = now()
			WHERE id = $1
			  AND state = $2
			RETURNING `+appointmentColumns,
			originalID, from, change.Reason, change.CancelledBy, change.RescheduledToID)

		orig, err := scanAppointment(row)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrStateChanged
			}
			return fmt.Errorf("cancel original: %w", err)
		}

		a, err := insertChecked(ctx, tx, replacement, capacity, originalID)
		if err != nil {
			return err
		}

		cancelled, created = orig, a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return cancelled, created, nil
}

func (r *PgRepository) FindOverdue(ctx context.Context, endedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE state IN ('scheduled', 'confirmed')
		  AND scheduled_at + make_interval(mins => duration_minutes) < $1
		ORDER BY scheduled_at
		LIMIT $2
	`, endedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
