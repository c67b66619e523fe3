package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PayoutStream carries payouts waiting to be submitted to their provider.
	PayoutStream = "payouts:submission"
	// DLQStream receives payouts the worker gave up on.
	DLQStream = "payouts:dlq"
)

// Event types published on PayoutStream.
const (
	EventPayoutCreated = "payout.created"
	EventPayoutRetry   = "payout.retry"
)

// Field names of a PayoutStream message.
const (
	FieldPayoutID  = "payout_id"
	FieldEventType = "event_type"
	FieldReason    = "reason"
	FieldTimestamp = "timestamp"
)

type StreamProducer struct {
	client *redis.Client
}

func NewStreamProducer(client *redis.Client) *StreamProducer {
	return &StreamProducer{client: client}
}

// PublishPayoutEvent enqueues payoutID for submission.
func (p *StreamProducer) PublishPayoutEvent(ctx context.Context, payoutID, eventType string) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: PayoutStream,
		Values: map[string]any{
			FieldPayoutID:  payoutID,
			FieldEventType: eventType,
			FieldTimestamp: time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish payout event: %w", err)
	}
	return nil
}

func (p *StreamProducer) PublishToDLQ(ctx context.Context, payoutID, reason string) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQStream,
		Values: map[string]any{
			FieldPayoutID:  payoutID,
			FieldReason:    reason,
			FieldTimestamp: time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

// StreamMessage is one decoded PayoutStream entry.
type StreamMessage struct {
	ID        string
	PayoutID  string
	EventType string
}

type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client *redis.Client,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

// CreateGroup creates the stream and consumer group, tolerating an existing group.
func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read blocks up to the configured duration for new messages. An empty
// result means nothing arrived.
func (c *StreamConsumer) Read(ctx context.Context) ([]StreamMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var out []StreamMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			out = append(out, decodeMessage(msg))
		}
	}
	return out, nil
}

// ReclaimStale takes over messages another consumer left pending for longer
// than minIdle.
func (c *StreamConsumer) ReclaimStale(ctx context.Context, minIdle time.Duration) ([]StreamMessage, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}

	out := make([]StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeMessage(msg))
	}
	return out, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

func decodeMessage(msg redis.XMessage) StreamMessage {
	out := StreamMessage{ID: msg.ID}
	if v, ok := msg.Values[FieldPayoutID].(string); ok {
		out.PayoutID = v
	}
	if v, ok := msg.Values[FieldEventType].(string); ok {
		out.EventType = v
	}
	return out
}
