// Package pubsub carries intra-cluster messages between the ingest
// pipeline, the scoring worker and the session drivers.
package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Message is a single delivery from a subscription.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is a live topic subscription. Messages stops when the
// subscription is closed or its context is cancelled.
type Subscription interface {
	Messages() <-chan *Message
	Close() error
}

// Bus is the fan-out transport. A subscriber that is down while a
// message is published never sees it, which is why the scoring path
// also keeps a Redis buffer behind the bus.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
	// PSubscribe subscribes by glob pattern, e.g. "scoring:*".
	PSubscribe(ctx context.Context, patterns ...string) (Subscription, error)
}

const (
	subscriptionBuffer = 256
	// lagWatermark is the queue depth past which a slow consumer is
	// called out in the logs. The queue itself never sheds messages;
	// skipping stale ones is the consumer's call.
	lagWatermark = subscriptionBuffer * 3 / 4
)

// RedisBus implements Bus on Redis pub/sub.
type RedisBus struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisBus creates the bus.
func NewRedisBus(rdb *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		rdb: rdb,
		log: log.With().Str("component", "pubsub").Logger(),
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, topic, raw).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topics...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return b.pump(ctx, ps), nil
}

func (b *RedisBus) PSubscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	ps := b.rdb.PSubscribe(ctx, patterns...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return b.pump(ctx, ps), nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan *Message
}

func (s *redisSubscription) Messages() <-chan *Message { return s.out }
func (s *redisSubscription) Close() error              { return s.ps.Close() }

func (b *RedisBus) pump(ctx context.Context, ps *redis.PubSub) *redisSubscription {
	sub := &redisSubscription{ps: ps, out: make(chan *Message, subscriptionBuffer)}
	go b.forward(ctx, ps.Channel(), sub.out)
	return sub
}

// forward moves Redis deliveries into the bounded subscription channel.
// Crossing the lag watermark is logged; the pump then waits for the
// consumer rather than shedding messages.
func (b *RedisBus) forward(ctx context.Context, src <-chan *redis.Message, out chan<- *Message) {
	defer close(out)

	lastWarn := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-src:
			if !ok {
				return
			}
			if len(out) >= lagWatermark && time.Since(lastWarn) > 5*time.Second {
				b.log.Warn().
					Str("topic", msg.Channel).
					Int("queued", len(out)).
					Msg("subscriber lagging behind bus")
				lastWarn = time.Now()
			}
			m := &Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}
