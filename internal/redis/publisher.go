package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/provider-booking-engine/internal/notify"
)

// ChannelAppointmentEvents carries every lifecycle event. The notification
// service subscribes here and fans out to email, SMS and calendars.
const ChannelAppointmentEvents = "appointments:events"

// Publisher hands notification events to the notification service over
// Redis pub/sub.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = ChannelAppointmentEvents
	}
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) Notify(ctx context.Context, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
