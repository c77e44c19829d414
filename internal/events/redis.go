package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
)

const (
	fieldEventID   = "event_id"
	fieldEventType = "event_type"
	fieldPayload   = "payload"
)

// NewRedisClient parses a redis:// URL and waits until the server answers.
func NewRedisClient(ctx context.Context, redisURL string, maxWait time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("NewRedisClient: parse url: %w", err)
	}

	client := redis.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			slog.Info("waiting for redis", "addr", opts.Addr, "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewRedisClient: ping: %w", err)
	}
	return client, nil
}

// StreamPublisher appends events to a Redis stream, one entry per ledger leg.
type StreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewStreamPublisher(client redis.UniversalClient, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	err := p.client.XAdd(ctx, p.addArgs(event)).Err()
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return nil
}

func (p *StreamPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *StreamPublisher) addArgs(event domain.OutboxEvent) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: []any{
			fieldEventID, event.ID.String(),
			fieldEventType, string(event.EventType),
			fieldPayload, string(event.Payload),
		},
	}
}

// Message is one stream entry read back from the bus.
type Message struct {
	StreamID  string
	EventID   string
	EventType domain.TransactionType
	Event     domain.TransactionEvent
}

type StreamReader struct {
	client redis.UniversalClient
	stream string
}

func NewStreamReader(client redis.UniversalClient, stream string) *StreamReader {
	return &StreamReader{client: client, stream: stream}
}

// Read returns up to count entries after lastID. A negative block returns
// immediately; otherwise it waits up to block for new entries.
func (r *StreamReader) Read(ctx context.Context, lastID string, count int64, block time.Duration) ([]Message, error) {
	streams, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}

	var messages []Message
	for _, s := range streams {
		for _, entry := range s.Messages {
			m, err := decodeMessage(entry)
			if err != nil {
				return nil, fmt.Errorf("Read: entry %s: %w", entry.ID, err)
			}
			messages = append(messages, m)
		}
	}
	return messages, nil
}

func decodeMessage(entry redis.XMessage) (Message, error) {
	m := Message{StreamID: entry.ID}

	m.EventID, _ = entry.Values[fieldEventID].(string)
	eventType, _ := entry.Values[fieldEventType].(string)
	m.EventType = domain.TransactionType(eventType)
	if !m.EventType.IsValid() {
		return Message{}, fmt.Errorf("unknown event type %q", eventType)
	}

	payload, ok := entry.Values[fieldPayload].(string)
	if !ok {
		return Message{}, fmt.Errorf("missing %s field", fieldPayload)
	}
	if err := json.Unmarshal([]byte(payload), &m.Event); err != nil {
		return Message{}, fmt.Errorf("decode payload: %w", err)
	}
	return m, nil
}
