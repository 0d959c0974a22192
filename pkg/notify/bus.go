package notify

import (
	"errors"
	"sync"
	"time"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth.
const DefaultSubscriberBuffer = 64

var (
	// ErrBusClosed is returned by Publish and Subscribe after Close.
	ErrBusClosed = errors.New("notification bus closed")
)

// Publisher is the publish side of the bus, consumed by device sessions.
type Publisher interface {
	// Publish delivers an event to every matching subscriber without
	// blocking. Events to slow subscribers are dropped oldest-first.
	Publish(ev Event) error
}

// Service is the subscribe side of the bus.
type Service interface {
	// Subscribe registers for the given event kinds. No kinds means all.
	Subscribe(kinds ...EventKind) (*Subscription, error)
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	// C delivers matching events until Cancel.
	C <-chan Event

	cancel func()
}

// Cancel detaches the subscription. Further events are not delivered;
// the channel is closed. Cancel is idempotent.
func (s *Subscription) Cancel() {
	s.cancel()
}

// subscriber is the bus-side state for one subscription.
type subscriber struct {
	ch    chan Event
	kinds map[EventKind]bool // nil matches every kind
}

func (s *subscriber) matches(k EventKind) bool {
	return s.kinds == nil || s.kinds[k]
}

// Bus is the default in-process event bus.
type Bus struct {
	mu sync.RWMutex

	buffer  int
	nextID  uint64
	subs    map[uint64]*subscriber
	dropped uint64
	closed  bool
}

// NewBus creates a bus with the default subscriber buffer.
func NewBus() *Bus {
	return NewBusWithBuffer(DefaultSubscriberBuffer)
}

// NewBusWithBuffer creates a bus with a custom per-subscriber buffer depth.
func NewBusWithBuffer(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Bus{
		buffer: buffer,
		subs:   make(map[uint64]*subscriber),
	}
}

// Subscribe registers for the given event kinds. No kinds means all.
func (b *Bus) Subscribe(kinds ...EventKind) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &subscriber{ch: make(chan Event, b.buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	return &Subscription{
		C:      sub.ch,
		cancel: func() { b.unsubscribe(id) },
	}, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

// Publish delivers the event to every matching subscriber. A full
// subscriber loses its oldest undelivered event to make room.
func (b *Bus) Publish(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.subs {
		if !sub.matches(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Shed the oldest event, then retry once.
			select {
			case <-sub.ch:
				b.dropped++
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				b.dropped++
			}
		}
	}
	return nil
}

// Dropped returns how many events were shed to slow subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close cancels every subscription and rejects further use.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Publisher = (*Bus)(nil)
	_ Service   = (*Bus)(nil)
)
