// Package redis delivers realtime notifications over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Publisher implements notify.Sink. Each owner has its own channel.
type Publisher struct {
	client *redis.Client
	prefix string
}

func NewPublisher(client *redis.Client, prefix string) *Publisher {
	return &Publisher{client: client, prefix: prefix}
}

// Channel is the pub/sub channel subscribers of ownerID listen on.
func (p *Publisher) Channel(ownerID string) string {
	return fmt.Sprintf("%s:%s:events", p.prefix, ownerID)
}

func (p *Publisher) Publish(ctx context.Context, ownerID, eventType string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("null")
	}
	msg, err := json.Marshal(envelope{Event: eventType, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(ownerID), msg).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.Channel(ownerID), err)
	}
	return nil
}

// Ping checks connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
