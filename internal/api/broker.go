package api

import (
	"sync"
)

// SSEEvent is one progressive update pushed to subscribers of a tenant's
// rate stream.
type SSEEvent struct {
	Type string
	Data map[string]any
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // tenantId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(tenantID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[tenantID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(tenantID string, ch chan SSEEvent) {
	b.mu.Lock()
	if m := b.subs[tenantID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, tenantID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(tenantID string, evt SSEEvent) {
	b.mu.Lock()
	m := b.subs[tenantID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
