// Package notify hands lifecycle events to the notification service without
// ever holding up, or rolling back, the booking that produced them.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	KindBooked      = "appointment.booked"
	KindConfirmed   = "appointment.confirmed"
	KindCancelled   = "appointment.cancelled"
	KindRescheduled = "appointment.rescheduled"
	KindCompleted   = "appointment.completed"
	KindNoShow      = "appointment.no_show"
)

type Event struct {
	Kind          string    `json:"event"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	NewState      string    `json:"new_state"`
	RecipientID   uuid.UUID `json:"recipient_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier delivers one event. Implementations may block on I/O.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Sender accepts events fire-and-forget.
type Sender interface {
	Send(ev Event)
}

type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// LogNotifier writes events to the log. It stands in when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	log.Info().
		Str("event", ev.Kind).
		Str("appointment_id", ev.AppointmentID.String()).
		Str("recipient_id", ev.RecipientID.String()).
		Str("new_state", ev.NewState).
		Msg("notification")
	return nil
}

// Dispatcher queues events and delivers them from a fixed set of workers.
// When the queue is full the event is dropped and logged.
type Dispatcher struct {
	target  Notifier
	timeout time.Duration
	queue   chan Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(target Notifier, workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	d := &Dispatcher{
		target:  target,
		timeout: timeout,
		queue:   make(chan Event, queueSize),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) Send(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		log.Warn().Str("event", ev.Kind).Str("appointment_id", ev.AppointmentID.String()).
			Msg("notification dispatcher closed, dropping event")
		return
	}

	select {
	case d.queue <- ev:
	default:
		log.Warn().Str("event", ev.Kind).Str("appointment_id", ev.AppointmentID.String()).
			Msg("notification queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.target.Notify(ctx, ev); err != nil {
			log.Error().Err(err).
				Str("event", ev.Kind).
				Str("appointment_id", ev.AppointmentID.String()).
				Str("recipient_id", ev.RecipientID.String()).
				Msg("notification delivery failed")
		}
		cancel()
	}
}
