package state

import (
	"fmt"
	"sync"

	"totari/log"
)

// EventKind names one of the coordinator's notification channels.
type EventKind int

const (
	AuthChanged EventKind = iota
	ThreadsChanged
	MessagesChanged
	CurrentThreadChanged

	numEventKinds
)

func (k EventKind) String() string {
	switch k {
	case AuthChanged:
		return "auth_changed"
	case ThreadsChanged:
		return "threads_changed"
	case MessagesChanged:
		return "messages_changed"
	case CurrentThreadChanged:
		return "current_thread_changed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is delivered to observers. Data is a snapshot the observer may keep:
// *model.User for AuthChanged, []model.Thread for ThreadsChanged,
// []model.Message for MessagesChanged and *model.Thread for CurrentThreadChanged.
type Event struct {
	Kind EventKind
	Data any
}

type Observer func(Event)

// Handle identifies one subscription.
type Handle struct {
	kind EventKind
	id   uint64
}

func (h Handle) Kind() EventKind { return h.kind }

type subscription struct {
	id uint64
	fn Observer
}

// Bus fans events out to observers. Publish may be called from any
// goroutine; observers run on the publishing goroutine, in subscription order.
type Bus struct {
	mu        sync.Mutex
	next      uint64
	observers map[EventKind][]subscription
}

func NewBus() *Bus {
	return &Bus{observers: make(map[EventKind][]subscription)}
}

func (b *Bus) Subscribe(kind EventKind, fn Observer) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.observers[kind] = append(b.observers[kind], subscription{id: b.next, fn: fn})
	return Handle{kind: kind, id: b.next}
}

// Unsubscribe removes the observer behind h. It reports whether h was live.
func (b *Bus) Unsubscribe(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.observers[h.kind]
	for i, s := range subs {
		if s.id == h.id {
			b.observers[h.kind] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish calls every observer of kind. A panicking observer is logged and
// skipped.
func (b *Bus) Publish(kind EventKind, data any) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.observers[kind]...)
	b.mu.Unlock()

	ev := Event{Kind: kind, Data: data}
	for _, s := range subs {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("observer %d for %s panicked: %v", s.id, ev.Kind, r)
		}
	}()
	s.fn(ev)
}
