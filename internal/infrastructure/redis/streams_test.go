package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestDecodeMessage(t *testing.T) {
	msg := decodeMessage(redis.XMessage{
		ID: "1700000000000-0",
		Values: map[string]any{
			FieldPayoutID:  "0b6f0c1e-2a6e-4d7f-9a43-6c1d2b3e4f50",
			FieldEventType: EventPayoutCreated,
			FieldTimestamp: "1700000000",
		},
	})

	assert.Equal(t, "1700000000000-0", msg.ID)
	assert.Equal(t, "0b6f0c1e-2a6e-4d7f-9a43-6c1d2b3e4f50", msg.PayoutID)
	assert.Equal(t, EventPayoutCreated, msg.EventType)
}

func TestDecodeMessage_MissingFields(t *testing.T) {
	msg := decodeMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"other": 1}})

	assert.Equal(t, "1-0", msg.ID)
	assert.Empty(t, msg.PayoutID)
	assert.Empty(t, msg.EventType)
}
