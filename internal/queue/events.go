package queue

import "sync"

type EventType string

const (
	// QueueChanged carries the full ordered list of pending texts.
	QueueChanged EventType = "queue_changed"
	// StateChanged carries the new machine state plus failure info.
	StateChanged EventType = "state_changed"
)

type Event struct {
	Type    EventType
	Items   []string
	State   string
	Failure *Failure
}

// Broker fans queue/state notifications out to subscribers. Publishes
// never block: a subscriber that stops draining loses events rather
// than stalling the state machine.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  16,
	}
}

// Subscribe registers for the given event types; with none given, the
// subscription receives everything.
func (b *Broker) Subscribe(types ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if len(types) == 0 {
		types = []EventType{QueueChanged, StateChanged}
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	return ch
}

func (b *Broker) Unsubscribe(target <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var found chan Event
	for t, subs := range b.subscribers {
		for i, ch := range subs {
			if ch == target {
				b.subscribers[t] = append(subs[:i], subs[i+1:]...)
				found = ch
				break
			}
		}
		if len(b.subscribers[t]) == 0 {
			delete(b.subscribers, t)
		}
	}
	// A channel may be registered under both types; close it once.
	if found != nil {
		close(found)
	}
}

func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[ev.Type] {
		select {
		case ch <- ev:
		default:
			// Subscriber full; drop.
		}
	}
}
