// Package identity defines the closed role model and the capability table
// used for every authorization decision in the realtime server. Roles are a
// fixed enumeration; capabilities are explicit predicates rather than
// substring checks, so the hierarchy is auditable and testable.
package identity

import "strings"

// Role is one of the closed set of user roles.
type Role string

const (
	RoleGuest     Role = "guest"
	RoleUser      Role = "user"
	RoleVIP       Role = "vip"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole maps a handshake-provided role string onto the closed set.
// Unknown or empty strings resolve to RoleUser; the guest role is never
// assigned from a handshake, only by the gateway itself.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleVIP:
		return RoleVIP
	case RoleModerator:
		return RoleModerator
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// ModEligible reports whether the role may perform general moderation:
// deleting others' messages and controlling cinema playback in any room.
func (r Role) ModEligible() bool {
	return r == RoleModerator || r == RoleAdmin
}

// CanModerate reports whether an actor role may mute or ban a target role.
// Admins moderate everyone except other admins; moderators moderate baseline
// and VIP users only. No other role has moderation rights.
func CanModerate(actor, target Role) bool {
	switch actor {
	case RoleAdmin:
		return target != RoleAdmin
	case RoleModerator:
		return target == RoleUser || target == RoleVIP || target == RoleGuest
	default:
		return false
	}
}

// CanNuke reports whether the role may clear the entire global chat history.
// This is narrower than moderation eligibility in one direction and wider in
// the other: VIPs may nuke even though they cannot mute or ban.
func (r Role) CanNuke() bool {
	return r == RoleAdmin || r == RoleVIP
}

// CanOriginateDM reports whether the role may start a brand-new DM thread.
// Anyone may reply within an existing thread.
func (r Role) CanOriginateDM() bool {
	return r == RoleAdmin || r == RoleModerator
}

// CooldownExempt reports whether the role is exempt from the global chat
// send cooldown.
func (r Role) CooldownExempt() bool {
	return r == RoleAdmin || r == RoleModerator || r == RoleVIP
}

// CanReverse reports whether the role may unmute or unban. Reversal is
// intentionally narrower than punishment: only admins qualify.
func (r Role) CanReverse() bool {
	return r == RoleAdmin
}
