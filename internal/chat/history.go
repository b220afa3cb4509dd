// Package chat holds the global chat room's in-memory state: a bounded
// message history and the text validation rules. History is deliberately
// RAM-only; a process restart clears it.
package chat

import "sync"

// MaxHistory is the number of recent messages retained in the global room.
const MaxHistory = 100

// Message is a single global chat message with the sender's identity
// snapshot taken at send time.
type Message struct {
	ID          string `json:"id"`
	AuthorID    int64  `json:"author_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Avatar      string `json:"avatar,omitempty"`
	Text        string `json:"text"`
	ReplyTo     string `json:"reply_to,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// History stores the most recent MaxHistory messages in send order. Unlike a
// plain ring buffer it supports removal by id, so eviction compacts a slice
// instead of overwriting slots.
type History struct {
	mu   sync.RWMutex
	msgs []Message
	max  int
}

// NewHistory creates an empty history with the default capacity.
func NewHistory() *History {
	return &History{max: MaxHistory}
}

// Append adds a message, evicting the oldest entry once the capacity is
// exceeded. Eviction is silent.
func (h *History) Append(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.msgs = append(h.msgs, m)
	if len(h.msgs) > h.max {
		h.msgs = h.msgs[len(h.msgs)-h.max:]
	}
}

// Remove deletes the message with the given id. Returns false if the id is
// not present (already evicted or deleted).
func (h *History) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, m := range h.msgs {
		if m.ID == id {
			h.msgs = append(h.msgs[:i], h.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the message with the given id, if it is still in the history.
func (h *History) Get(id string) (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, m := range h.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Clear empties the history.
func (h *History) Clear() {
	h.mu.Lock()
	h.msgs = nil
	h.mu.Unlock()
}

// Snapshot returns the retained messages in send order.
func (h *History) Snapshot() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}
