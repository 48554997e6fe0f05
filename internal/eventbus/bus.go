package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the notification envelope. The JSON tags are the wire shape the
// websocket clients consume: {type, data, timestamp}. Data holds one of the
// payload structs from events.go and must stay JSON-serializable.
//
// Delivery is best effort: Publish never blocks, a subscriber whose buffer
// is full misses that event, and there is no replay on (re)attach.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"timestamp"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	SubscriberCount() int
}

// New returns an in-memory fanout bus. It runs no goroutines of its own;
// delivery happens on the publisher's goroutine.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot under RLock, send outside it: a stalled receiver must not
	// hold up Subscribe/unsubscribe on other connections.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Full buffer means the subscriber loses this event. The recover
		// covers a concurrent unsubscribe closing the channel mid-send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Publish tolerates the close racing an in-flight send.
			close(ch)
		})
	}
	return ch, unsub
}

func (b *memBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
