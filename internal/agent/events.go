package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agenticmail/agenticmail/pkg/models"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind is dropped rather than allowed to stall
// the publishing loop.
const subscriberBuffer = 64

// EventBus fans session events out to subscribers. Publishing never
// blocks: the store is authoritative and the stream is best-effort.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[string]map[int]chan *models.SessionEvent
	nextID   int
	sequence map[string]*atomic.Uint64
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:     make(map[string]map[int]chan *models.SessionEvent),
		sequence: make(map[string]*atomic.Uint64),
	}
}

// Subscribe returns a channel of events for one session plus a cancel
// function. The channel is closed on cancel or when the subscriber is
// dropped for falling behind.
func (b *EventBus) Subscribe(sessionID string) (<-chan *models.SessionEvent, func()) {
	ch := make(chan *models.SessionEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan *models.SessionEvent)
	}
	id := b.nextID
	b.nextID++
	b.subs[sessionID][id] = ch
	b.mu.Unlock()

	cancel := func() { b.remove(sessionID, id) }
	return ch, cancel
}

func (b *EventBus) remove(sessionID string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sessionID]
	if subs == nil {
		return
	}
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, sessionID)
	}
	close(ch)
}

// Publish stamps the event with its per-session sequence number and
// delivers it to every subscriber that has room.
func (b *EventBus) Publish(event *models.SessionEvent) {
	if event.Version == 0 {
		event.Version = 1
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	event.Sequence = b.counter(event.SessionID).Add(1)

	b.mu.RLock()
	var dropped []int
	for id, ch := range b.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
			dropped = append(dropped, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range dropped {
		b.remove(event.SessionID, id)
	}
}

func (b *EventBus) counter(sessionID string) *atomic.Uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.sequence[sessionID]
	if c == nil {
		c = &atomic.Uint64{}
		b.sequence[sessionID] = c
	}
	return c
}

// CloseSession closes and removes every subscriber of one session and
// forgets its sequence counter.
func (b *EventBus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[sessionID] {
		close(ch)
	}
	delete(b.subs, sessionID)
	delete(b.sequence, sessionID)
}

// SubscriberCount reports the number of subscribers for a session.
func (b *EventBus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
