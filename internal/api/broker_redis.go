package api

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"

    "hookrelay/internal/model"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every replica's
// subscribers see deliveries made by any replica.
type RedisBroker struct {
    rdb *redis.Client

    mu   sync.Mutex
    subs map[chan model.DeliveryEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return NewRedisBrokerFromClient(redis.NewClient(opt)), nil
}

func NewRedisBrokerFromClient(rdb *redis.Client) *RedisBroker {
    return &RedisBroker{rdb: rdb, subs: map[chan model.DeliveryEvent]*redis.PubSub{}}
}

// Ping checks the Redis connection.
func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) Subscribe(webhookID string) chan model.DeliveryEvent {
    ch := make(chan model.DeliveryEvent, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(webhookID))
    // wait for the subscription confirmation so no publish is missed
    if _, err := ps.Receive(ctx); err != nil {
        log.Warn().Err(err).Str("webhook_id", webhookID).Msg("redis subscribe")
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt model.DeliveryEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
    }()
    return ch
}

// Unsubscribe closes the Pub/Sub connection; the forwarding goroutine then
// closes ch.
func (b *RedisBroker) Unsubscribe(webhookID string, ch chan model.DeliveryEvent) {
    b.mu.Lock()
    ps, ok := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    if ok { _ = ps.Close() }
}

func (b *RedisBroker) Publish(webhookID string, evt model.DeliveryEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    if err := b.rdb.Publish(ctx, b.chanName(webhookID), data).Err(); err != nil {
        log.Warn().Err(err).Str("webhook_id", webhookID).Msg("redis publish")
    }
}

func (b *RedisBroker) PublishDelivery(evt model.DeliveryEvent) { b.Publish(evt.WebhookID, evt) }

func (b *RedisBroker) chanName(webhookID string) string { return "hookrelay:webhook:" + webhookID + ":events" }
