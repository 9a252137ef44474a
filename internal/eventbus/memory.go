package eventbus

import (
	"context"
	"strings"
	"sync"
)

// DefaultHistorySize bounds the memory bus history.
const DefaultHistorySize = 256

type subscription struct {
	id     int
	prefix string
	fn     func(Event)
}

// MemoryBus delivers events synchronously to in-process subscribers and
// keeps a bounded history.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    []subscription
	nextID  int
	history []Event
	cap     int
}

func NewMemoryBus(historySize int) *MemoryBus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &MemoryBus{cap: historySize}
}

// Subscribe registers fn for events whose type starts with prefix ("" for
// all). The returned func removes the subscription.
func (b *MemoryBus) Subscribe(prefix string, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, prefix: prefix, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	b.mu.Lock()
	b.history = append(b.history, evt)
	if len(b.history) > b.cap {
		b.history = b.history[len(b.history)-b.cap:]
	}
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if strings.HasPrefix(evt.Type, s.prefix) {
			s.fn(evt)
		}
	}
	return nil
}

// Events returns history entries whose type starts with prefix.
func (b *MemoryBus) Events(prefix string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.history {
		if strings.HasPrefix(e.Type, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many history entries have exactly this type.
func (b *MemoryBus) Count(typ string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, e := range b.history {
		if e.Type == typ {
			n++
		}
	}
	return n
}
