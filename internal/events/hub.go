// Package events fans refresh triggers out to subscribers.
package events

import (
	"sync"
	"time"
)

// Trigger names.
const (
	Startup = "startup"
	Tick    = "tick"
	Signal  = "signal"
	Config  = "config"
)

// Event asks subscribers to resample the battery.
type Event struct {
	Name string
	Time time.Time
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub { return &Hub{subs: make(map[chan Event]struct{})} }

func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 4)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish delivers name to every subscriber without blocking. A subscriber
// whose buffer is full misses the event.
func (h *Hub) Publish(name string) {
	if h == nil {
		return
	}
	ev := Event{Name: name, Time: time.Now()}
	h.mu.RLock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.RUnlock()
}
