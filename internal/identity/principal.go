package identity

import "sync/atomic"

// Principal is the resolved identity attached to a connection after the
// handshake. It is derived state: the authoritative record lives in the user
// directory and is re-checked for privileged actions.
type Principal struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	Avatar      string `json:"avatar,omitempty"`
}

// IsGuest reports whether the principal carries a guest sentinel id.
// Guests are never tracked by the mute/ban sets.
func (p Principal) IsGuest() bool {
	return p.ID < 0
}

// GuestIDs hands out sentinel negative ids for unauthenticated connections.
// Ids are unique for the life of the process and never collide with real
// (positive) user ids.
type GuestIDs struct {
	next int64
}

// NewGuestIDs returns a fresh allocator starting at -1.
func NewGuestIDs() *GuestIDs {
	return &GuestIDs{}
}

// Next returns the next unused guest id (-1, -2, ...).
func (g *GuestIDs) Next() int64 {
	return -atomic.AddInt64(&g.next, 1)
}
