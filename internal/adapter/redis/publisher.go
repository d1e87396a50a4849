// Package redis fans ingest events out over a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
)

// publishClient is the subset of goredis.Cmdable the publisher needs.
type publishClient interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// Publisher publishes every event as JSON on one channel.
// It implements pipeline.EventSink.
type Publisher struct {
	client  publishClient
	channel string
	logger  *slog.Logger
}

// Connect opens a client for addr and verifies it with PING.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

// NewPublisher creates a publisher on channel.
func NewPublisher(client publishClient, channel string, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, channel: channel, logger: logger}
}

func (p *Publisher) Name() string { return "redis" }

// Send publishes e. The receiver count is logged at debug level only; zero
// subscribers is not an error.
func (p *Publisher) Send(ctx context.Context, e domain.Event) error {
	payload, err := buildPayload(e, uuid.NewString())
	if err != nil {
		return err
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish %s event: %w", e.Kind, err)
	}
	p.logger.Debug("event published to redis", "kind", e.Kind, "channel", p.channel, "receivers", receivers)
	return nil
}

// Envelope is the JSON published for each event.
type Envelope struct {
	ID string `json:"id"`
	domain.Event
}

func buildPayload(e domain.Event, id string) ([]byte, error) {
	data, err := json.Marshal(Envelope{ID: id, Event: e})
	if err != nil {
		return nil, fmt.Errorf("serialize %s event: %w", e.Kind, err)
	}
	return data, nil
}
