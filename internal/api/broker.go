package api

import (
    "sync"

    "hookrelay/internal/model"
)

// EventBroker fans delivery events out to live subscribers keyed by webhook id.
// After Unsubscribe the channel is closed.
type EventBroker interface {
    Subscribe(webhookID string) chan model.DeliveryEvent
    Unsubscribe(webhookID string, ch chan model.DeliveryEvent)
    Publish(webhookID string, evt model.DeliveryEvent)
    PublishDelivery(evt model.DeliveryEvent)
}

// Broker is the in-process EventBroker. Slow subscribers miss events rather
// than block delivery.
type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan model.DeliveryEvent]struct{} // webhookID -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan model.DeliveryEvent]struct{}{}}
}

func (b *Broker) Subscribe(webhookID string) chan model.DeliveryEvent {
    ch := make(chan model.DeliveryEvent, 16)
    b.mu.Lock()
    if b.subs[webhookID] == nil { b.subs[webhookID] = map[chan model.DeliveryEvent]struct{}{} }
    b.subs[webhookID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(webhookID string, ch chan model.DeliveryEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[webhookID]
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, webhookID) }
    close(ch)
}

func (b *Broker) Publish(webhookID string, evt model.DeliveryEvent) {
    b.mu.Lock()
    for ch := range b.subs[webhookID] {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}

// PublishDelivery lets the broker act as an analytics sink.
func (b *Broker) PublishDelivery(evt model.DeliveryEvent) { b.Publish(evt.WebhookID, evt) }

// Subscribers reports how many channels listen on webhookID.
func (b *Broker) Subscribers(webhookID string) int {
    b.mu.Lock()
    defer b.mu.Unlock()
    return len(b.subs[webhookID])
}
