// Package events is the observer channel between the bot core and its UI:
// components publish typed events, subscribers (the websocket hub, tests)
// receive them. Publishing never blocks the caller.
package events

import (
	"sync"
	"time"
)

// Event types published by the core.
const (
	TypeEventLog              = "eventlog"
	TypeCommandCountUpdate    = "commandCountUpdate"
	TypeCustomCommandsUpdated = "custom-commands-updated"
	TypeCurrencyUpdated       = "currency-update"
	TypeCurrencyDeleted       = "delete-currency-def"
	TypeGiveawayStarted       = "giveaway-started"
	TypeGiveawayEntered       = "giveaway-entered"
	TypeGiveawaySettled       = "giveaway-settled"
	TypeFollow                = "follow"
	TypeChatMessage           = "chat-message"
	TypeError                 = "error"
)

// Event is one published notification.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(eventType string, data any)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(string, any) {}

// Bus fans events out to subscribers over buffered channels. Slow
// subscribers lose events instead of stalling publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	now    func() time.Time
}

// NewBus returns a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer, now: time.Now}
}

// Publish implements Publisher.
func (b *Bus) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Data: data, Time: b.now().UTC()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and is safe to call more than once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
