// Package events is the in-process pub/sub bus connecting the lifecycle
// services to the websocket stream. Delivery is best-effort: slow
// subscribers drop events rather than back-pressuring publishers.
package events

import (
	"log"
	"sync"
	"time"
)

// Event types published on the bus.
const (
	TypePlanTransition = "plan.transition"
	TypePlanPublished  = "plan.published"
	TypePlanLocked     = "plan.locked"
	TypeRepairSession  = "repair.session"
	TypeKillSwitch     = "killswitch.toggle"
	TypeAuditAppended  = "audit.appended"
)

// Event is one bus message. TenantID scopes delivery: subscribers only see
// events of their own tenant.
type Event struct {
	Type     string                 `json:"type"`
	TenantID string                 `json:"tenant_id"`
	EntityID string                 `json:"entity_id,omitempty"`
	TS       time.Time              `json:"ts"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// Subscription is a live feed of events for one tenant.
type Subscription struct {
	C  <-chan Event
	id int
	ch chan Event
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	logger *log.Logger
	closed bool
}

type subscriber struct {
	tenantID string
	ch       chan Event
}

func NewBus() *Bus {
	return &Bus{
		subs:   make(map[int]*subscriber),
		logger: log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
	}
}

// Publish delivers an event to every subscriber of its tenant. Never blocks;
// a full subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(e Event) {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.tenantID != "" && sub.tenantID != e.TenantID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.logger.Printf("dropping %s event for slow subscriber", e.Type)
		}
	}
}

// Subscribe opens a tenant-scoped feed. An empty tenantID receives all
// tenants (platform scope only).
func (b *Bus) Subscribe(tenantID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 64)
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscriber{tenantID: tenantID, ch: ch}
	return &Subscription{C: ch, id: id, ch: ch}
}

// Unsubscribe closes the feed. Safe to call once per subscription.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}

// Subscribers reports the live feed count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes all feeds.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
