package jobs

import "sync"

// Event is one job-lifecycle notification payload.
type Event map[string]any

// eventBuffer bounds each subscriber channel; slow consumers drop events
// rather than stall the publishing worker.
const eventBuffer = 16

// Broker fans job events out to per-conversation subscribers. There is no
// buffering or replay: a subscriber only sees events published after it
// subscribed.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a new channel for the conversation. Multiple
// subscribers per conversation are supported.
func (b *Broker) Subscribe(conversationID string) chan Event {
	ch := make(chan Event, eventBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[conversationID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[conversationID] = set
	}
	set[ch] = struct{}{}
	return ch
}

// Unsubscribe removes one subscriber channel and closes it. The
// conversation's entry is pruned once its last subscriber is gone.
func (b *Broker) Unsubscribe(conversationID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[conversationID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, conversationID)
	}
}

// Publish delivers the payload to every live subscriber for the
// conversation. Safe from any goroutine; an empty conversation id or one
// with no subscribers is a silent no-op, and a full subscriber channel
// drops the event instead of blocking the worker.
func (b *Broker) Publish(conversationID string, payload Event) {
	if conversationID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[conversationID] {
		select {
		case ch <- payload:
		default:
		}
	}
}
