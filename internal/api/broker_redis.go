package api

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type EventBroker interface {
	Subscribe(tenantID string) chan SSEEvent
	Unsubscribe(tenantID string, ch chan SSEEvent)
	Publish(tenantID string, evt SSEEvent)
}

// In-memory broker already implemented in broker.go and satisfies EventBroker

// RedisBroker implements EventBroker over Redis Pub/Sub so progressive
// updates reach subscribers on other instances.
type RedisBroker struct {
	rdb  *redis.Client
	mu   sync.Mutex
	subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker() (*RedisBroker, error) {
	url := os.Getenv("REDIS_URL")
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	return &RedisBroker{rdb: rdb, subs: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(tenantID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(tenantID))
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go b.forward(ps.Channel(), ch)
	return ch
}

// forward pumps pubsub messages into the subscriber channel. It is the
// only closer of ch: Unsubscribe closes the pubsub, which ends the range
// here, so a tardy publish can never hit an already-closed channel.
func (b *RedisBroker) forward(msgs <-chan *redis.Message, ch chan SSEEvent) {
	defer close(ch)
	for msg := range msgs {
		var evt SSEEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

func (b *RedisBroker) Unsubscribe(tenantID string, ch chan SSEEvent) {
	b.mu.Lock()
	ps := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(tenantID string, evt SSEEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(tenantID), data).Err()
}

func (b *RedisBroker) chanName(tenantID string) string { return "rates:" + tenantID }
