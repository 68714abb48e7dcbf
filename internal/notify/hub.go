package notify

import (
	"context"
	"sync"
)

var _ Sink = (*Hub)(nil)

// Hub fans messages out to in-process subscribers. Slow subscribers miss
// messages rather than block the sender.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Message
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string][]chan Message),
	}
}

func (h *Hub) Subscribe(userID string) <-chan Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Message, 10)
	h.subscribers[userID] = append(h.subscribers[userID], ch)
	return ch
}

// Unsubscribe removes and closes ch.
func (h *Hub) Unsubscribe(userID string, ch <-chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[userID]
	for i, c := range subs {
		if c == ch {
			close(c)
			h.subscribers[userID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[userID]) == 0 {
		delete(h.subscribers, userID)
	}
}

func (h *Hub) Send(_ context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[msg.UserID] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}
