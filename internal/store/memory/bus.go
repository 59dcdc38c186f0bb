package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const subscriberBuffer = 128

// SignalBus is an in-process domain.SignalBus. Subscriptions accept the
// same glob patterns as Redis PSUBSCRIBE. Slow subscribers lose messages
// rather than block publishers.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	streams map[string][]domain.StreamMessage
	nextID  uint64
}

type subscription struct {
	pattern string
	out     chan []byte
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[*subscription]struct{}),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to every subscription matching channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if ok, _ := path.Match(sub.pattern, channel); !ok {
			continue
		}
		select {
		case sub.out <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription that ends when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := &subscription{pattern: channel, out: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.out)
		b.mu.Unlock()
	}()
	return sub.out, nil
}

// StreamAppend appends payload to stream.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.nextID, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

// StreamRead returns up to count entries after lastID; "0" reads from the
// start.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after := streamSeq(lastID)

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		if streamSeq(msg.ID) <= after {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) uint64 {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, _ := strconv.ParseUint(id, 10, 64)
	return n
}

var _ domain.SignalBus = (*SignalBus)(nil)
