// Package dm implements the direct-message router's storage: pairwise
// conversations keyed by the unordered pair of participant ids, capped per
// pair, with derived conversation-list synthesis and unread tracking.
// Like the rest of the realtime state this is RAM-only by design.
package dm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tavern/community-app/internal/identity"
)

const (
	// MaxPerPair is the message cap per conversation; oldest are evicted.
	MaxPerPair = 200

	// HistoryLimit is the most messages a single history fetch returns.
	HistoryLimit = 100
)

// Message is one direct message. The sender's identity snapshot is taken at
// send time; conversation labels use the latest snapshot in the thread.
type Message struct {
	ID              string        `json:"id"`
	FromID          int64         `json:"from_user_id"`
	ToID            int64         `json:"to_user_id"`
	FromUsername    string        `json:"from_username"`
	FromDisplayName string        `json:"from_display_name"`
	FromRole        identity.Role `json:"from_role"`
	Text            string        `json:"text"`
	CreatedAt       int64         `json:"created_at"`
	Read            bool          `json:"read"`
}

// Conversation is the derived per-principal view of one thread.
type Conversation struct {
	WithUserID      int64         `json:"with_user_id"`
	WithUsername    string        `json:"with_username"`
	WithDisplayName string        `json:"with_display_name"`
	WithRole        identity.Role `json:"with_role"`
	LastMessage     string        `json:"last_message"`
	LastAt          int64         `json:"last_at"`
	UnreadCount     int           `json:"unread_count"`
}

// PairKey returns the canonical order-independent key for two user ids.
// Lookups for either participant resolve to the same bucket.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// Store holds all DM conversations in memory behind a mutex.
type Store struct {
	mu    sync.RWMutex
	pairs map[string][]Message
}

// NewStore creates an empty DM store.
func NewStore() *Store {
	return &Store{pairs: make(map[string][]Message)}
}

// Exists reports whether a conversation between the two users already has at
// least one message. The origination permission gate hangs off this.
func (s *Store) Exists(a, b int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pairs[PairKey(a, b)]) > 0
}

// Append adds a message to its pair bucket, evicting the oldest entry once
// the per-pair cap is exceeded.
func (s *Store) Append(m Message) {
	key := PairKey(m.FromID, m.ToID)

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.pairs[key], m)
	if len(msgs) > MaxPerPair {
		msgs = msgs[len(msgs)-MaxPerPair:]
	}
	s.pairs[key] = msgs
}

// History returns up to the last HistoryLimit messages between me and with,
// in chronological order, and marks every message addressed to me in that
// pair as read.
func (s *Store) History(me, with int64) []Message {
	key := PairKey(me, with)

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.pairs[key]
	for i := range msgs {
		if msgs[i].ToID == me {
			msgs[i].Read = true
		}
	}

	start := 0
	if len(msgs) > HistoryLimit {
		start = len(msgs) - HistoryLimit
	}
	out := make([]Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}

// MarkRead flips every message addressed to me in the pair to read without
// returning history.
func (s *Store) MarkRead(me, with int64) {
	key := PairKey(me, with)

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.pairs[key]
	for i := range msgs {
		if msgs[i].ToID == me {
			msgs[i].Read = true
		}
	}
}

// Conversation synthesizes me's view of the thread with the other user.
// The other participant's identity fields come from their most recent
// message in the thread; they are empty when the other side has never
// written (the caller may fill them from the directory).
func (s *Store) Conversation(me, with int64) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationLocked(me, with)
}

func (s *Store) conversationLocked(me, with int64) (Conversation, bool) {
	msgs := s.pairs[PairKey(me, with)]
	if len(msgs) == 0 {
		return Conversation{}, false
	}

	c := Conversation{WithUserID: with}
	last := msgs[len(msgs)-1]
	c.LastMessage = last.Text
	c.LastAt = last.CreatedAt

	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].FromID == with {
			c.WithUsername = msgs[i].FromUsername
			c.WithDisplayName = msgs[i].FromDisplayName
			c.WithRole = msgs[i].FromRole
			break
		}
	}
	for _, m := range msgs {
		if m.ToID == me && !m.Read {
			c.UnreadCount++
		}
	}
	return c, true
}

// Conversations returns me's full conversation list, most recent first.
// This is a derived read computed from the pair buckets.
func (s *Store) Conversations(me int64) []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Conversation
	for key, msgs := range s.pairs {
		if len(msgs) == 0 {
			continue
		}
		var a, b int64
		if _, err := fmt.Sscanf(key, "%d:%d", &a, &b); err != nil {
			continue
		}
		var other int64
		switch me {
		case a:
			other = b
		case b:
			other = a
		default:
			continue
		}
		if c, ok := s.conversationLocked(me, other); ok {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LastAt > out[j].LastAt })
	return out
}
