package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const (
	// defaultStreamMaxLen bounds each stream via XADD MAXLEN ~.
	defaultStreamMaxLen int64 = 10000
	streamField               = "payload"
)

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live
// fan-out and Redis Streams for the replayable event log.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus with the default stream length.
func NewSignalBus(c *Client) *SignalBus {
	return NewSignalBusWithMaxLen(c, defaultStreamMaxLen)
}

// NewSignalBusWithMaxLen creates a SignalBus whose streams are trimmed to
// roughly maxLen entries. A non-positive maxLen selects the default.
func NewSignalBusWithMaxLen(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish sends a payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to channel, or to a pattern when channel contains
// glob characters such as "auction:*". The returned channel is closed when
// ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to a stream with XADD.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{streamField: payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID; "" or "0" reads
// from the start. It never blocks. An empty result means the caller has
// caught up.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := "-"
	if lastID != "" && lastID != "0" {
		start = "(" + lastID
	}
	entries, err := sb.rdb.XRangeN(ctx, stream, start, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	messages := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		payload, ok := streamPayload(e.Values)
		if !ok {
			continue
		}
		messages = append(messages, domain.StreamMessage{ID: e.ID, Payload: payload})
	}
	return messages, nil
}

func streamPayload(values map[string]any) ([]byte, bool) {
	switch v := values[streamField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

var _ domain.SignalBus = (*SignalBus)(nil)
