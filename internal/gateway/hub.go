// Package gateway implements the application layer of the realtime server.
// Two endpoint namespaces share one transport: the global namespace carries
// the community chat, direct messages, and moderation commands; the cinema
// namespace carries the watch-together lobby and rooms. Each namespace runs
// its own first-frame auth handshake.
package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tavern/community-app/internal/directory"
	"github.com/tavern/community-app/internal/identity"
	"github.com/tavern/community-app/internal/metrics"
	"github.com/tavern/community-app/internal/protocol"
)

// Transport delivers frames to connections and drops them. *ws.Server
// satisfies it; tests substitute a recording fake.
type Transport interface {
	SendMessage(connID string, data []byte) error
	Kick(connID string)
}

// Directory is the user-lookup collaborator used to resolve handshake
// identities against the authoritative record.
type Directory interface {
	GetUserByID(ctx context.Context, id int64) (*directory.User, error)
}

// clientTable tracks the authenticated principals of one namespace. The
// userID binding is last-wins: a fresh connection for an already-bound user
// evicts the stale one.
type clientTable struct {
	mu     sync.Mutex
	byConn map[string]identity.Principal
	byUser map[int64]string // userID -> connID
}

func newClientTable() *clientTable {
	return &clientTable{
		byConn: make(map[string]identity.Principal),
		byUser: make(map[int64]string),
	}
}

// bind registers a connection's principal. It returns the connID of a
// previously bound connection for the same user, if any, so the caller can
// kick it.
func (t *clientTable) bind(connID string, p identity.Principal) (evicted string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.byUser[p.ID]; ok && prev != connID {
		delete(t.byConn, prev)
		evicted = prev
	}
	t.byConn[connID] = p
	t.byUser[p.ID] = connID
	return evicted
}

// remove drops a connection. The user binding is only cleared when it still
// points at this connection, so a last-wins rebind is not undone by the
// stale connection's close.
func (t *clientTable) remove(connID string) (identity.Principal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byConn[connID]
	if !ok {
		return identity.Principal{}, false
	}
	delete(t.byConn, connID)
	if t.byUser[p.ID] == connID {
		delete(t.byUser, p.ID)
	}
	return p, true
}

// get returns the principal bound to a connection.
func (t *clientTable) get(connID string) (identity.Principal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byConn[connID]
	return p, ok
}

// connFor returns the connection currently bound to a user.
func (t *clientTable) connFor(userID int64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	connID, ok := t.byUser[userID]
	return connID, ok
}

// connIDs returns all bound connection ids.
func (t *clientTable) connIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.byConn))
	for connID := range t.byConn {
		out = append(out, connID)
	}
	return out
}

// resolvePrincipal turns an untrusted handshake payload into a principal.
// Positive user ids are re-resolved against the directory, which is
// authoritative for username, display name, role, and the persistent ban
// flag. Unknown or absent ids fall back to a guest with a sentinel negative
// id.
func resolvePrincipal(ctx context.Context, dir Directory, guests *identity.GuestIDs, msg protocol.AuthMsg) (identity.Principal, bool, error) {
	if msg.UserID > 0 {
		u, err := dir.GetUserByID(ctx, msg.UserID)
		if err != nil {
			return identity.Principal{}, false, fmt.Errorf("gateway: resolve user %d: %w", msg.UserID, err)
		}
		if u != nil {
			p := identity.Principal{
				ID:          u.ID,
				Username:    u.Username,
				DisplayName: u.DisplayName,
				Role:        u.Role,
				Avatar:      msg.Avatar,
			}
			if p.DisplayName == "" {
				p.DisplayName = p.Username
			}
			return p, u.Banned, nil
		}
		// Unknown id: treated as a guest, not an error.
	}

	id := guests.Next()
	name := strings.TrimSpace(msg.Username)
	if name == "" {
		name = fmt.Sprintf("guest-%d", -id)
	}
	return identity.Principal{
		ID:          id,
		Username:    name,
		DisplayName: name,
		Role:        identity.RoleGuest,
	}, false, nil
}

// send marshals a server message and delivers it to one connection. Build
// and delivery failures are logged, not propagated; a dead connection is the
// heartbeat's problem.
func send(tr Transport, connID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("gateway: build %s: %v", msgType, err)
		return
	}
	if err := tr.SendMessage(connID, data); err != nil {
		log.Printf("gateway: send %s to %s: %v", msgType, connID, err)
	}
}

// sendErr delivers a typed error event to one connection. Connection-level
// failures (handshake, ban notices) use the generic "error" event; errors
// answering a namespace operation use that namespace's error event.
func sendErr(tr Transport, connID, errType, code, message string) {
	send(tr, connID, errType, protocol.ErrorMsg{Code: code, Message: message})
}

// broadcast fans a server message out to the given connections and records
// the fan-out latency.
func broadcast(tr Transport, connIDs []string, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("gateway: build %s: %v", msgType, err)
		return
	}

	start := time.Now()
	for _, connID := range connIDs {
		if err := tr.SendMessage(connID, data); err != nil {
			log.Printf("gateway: broadcast %s to %s: %v", msgType, connID, err)
		}
	}
	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
}
