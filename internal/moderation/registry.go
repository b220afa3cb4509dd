// Package moderation owns the process-wide moderation state: the mute and
// ban sets, the per-user send cooldown, and the role-hierarchy checks behind
// every mute/ban/unmute/unban. State is deliberately RAM-only — a restart
// wipes it — while the persistent ban flag lives in the user directory.
package moderation

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/tavern/community-app/internal/audit"
	"github.com/tavern/community-app/internal/directory"
	"github.com/tavern/community-app/internal/identity"
)

// DefaultCooldown is the minimum interval between a non-exempt user's
// consecutive global chat sends.
const DefaultCooldown = 5 * time.Second

var (
	// ErrNoPermission means the actor's role may not perform the action on
	// the target's live role.
	ErrNoPermission = errors.New("moderation: not allowed")

	// ErrUnknownTarget means the directory has no record for the target id.
	// Guests fall here: the ban/mute sets track positive ids only.
	ErrUnknownTarget = errors.New("moderation: unknown target")
)

// Directory is the user-lookup collaborator the registry re-validates
// moderation targets against.
type Directory interface {
	GetUserByID(ctx context.Context, id int64) (*directory.User, error)
	SetBanned(ctx context.Context, id int64, banned bool) error
}

// AuditPublisher receives a record of every successful moderation action.
type AuditPublisher interface {
	PublishAudit(e audit.Entry) error
}

// Registry holds the mute/ban sets and cooldown timestamps behind a mutex.
// Construct one per process and inject it; there are no package globals.
type Registry struct {
	mu       sync.Mutex
	muted    map[int64]struct{}
	banned   map[int64]struct{}
	lastSent map[int64]time.Time

	dir      Directory
	pub      AuditPublisher // may be nil
	cooldown time.Duration
	now      func() time.Time
}

// NewRegistry creates a Registry backed by the given directory. pub may be
// nil to disable audit publication.
func NewRegistry(dir Directory, pub AuditPublisher) *Registry {
	return &Registry{
		muted:    make(map[int64]struct{}),
		banned:   make(map[int64]struct{}),
		lastSent: make(map[int64]time.Time),
		dir:      dir,
		pub:      pub,
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
}

// Mute adds the target to the mute set after re-checking the actor's rights
// against the target's live role from the directory.
func (r *Registry) Mute(ctx context.Context, actor identity.Principal, targetID int64) error {
	if err := r.checkHierarchy(ctx, actor, targetID); err != nil {
		return err
	}

	r.mu.Lock()
	r.muted[targetID] = struct{}{}
	r.mu.Unlock()

	r.publish(audit.ActionMute, actor.ID, targetID)
	return nil
}

// Unmute removes the target from the mute set. Admin only: punishment is
// broad, reversal is narrow.
func (r *Registry) Unmute(ctx context.Context, actor identity.Principal, targetID int64) error {
	if !actor.Role.CanReverse() {
		return ErrNoPermission
	}

	r.mu.Lock()
	delete(r.muted, targetID)
	r.mu.Unlock()

	r.publish(audit.ActionUnmute, actor.ID, targetID)
	return nil
}

// Ban adds the target to the ban set and flips the persistent directory
// flag. The caller is responsible for dropping the target's live
// connections (ban notice first).
func (r *Registry) Ban(ctx context.Context, actor identity.Principal, targetID int64) error {
	if err := r.checkHierarchy(ctx, actor, targetID); err != nil {
		return err
	}

	r.mu.Lock()
	r.banned[targetID] = struct{}{}
	r.mu.Unlock()

	if err := r.dir.SetBanned(ctx, targetID, true); err != nil {
		log.Printf("moderation: persist ban for %d: %v", targetID, err)
	}

	r.publish(audit.ActionBan, actor.ID, targetID)
	return nil
}

// Unban removes the target from the ban set and clears the directory flag.
// Admin only.
func (r *Registry) Unban(ctx context.Context, actor identity.Principal, targetID int64) error {
	if !actor.Role.CanReverse() {
		return ErrNoPermission
	}

	r.mu.Lock()
	delete(r.banned, targetID)
	r.mu.Unlock()

	if err := r.dir.SetBanned(ctx, targetID, false); err != nil {
		log.Printf("moderation: persist unban for %d: %v", targetID, err)
	}

	r.publish(audit.ActionUnban, actor.ID, targetID)
	return nil
}

// IsMuted reports whether the id is in the mute set. Guests (negative ids)
// are never tracked.
func (r *Registry) IsMuted(id int64) bool {
	if id <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.muted[id]
	return ok
}

// IsBanned reports whether the id is in the ban set.
func (r *Registry) IsBanned(id int64) bool {
	if id <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.banned[id]
	return ok
}

// CheckCooldown reports whether the user may send to the global room. When
// the cooldown has not elapsed it returns ok=false and the remaining whole
// seconds, rounded up. Exempt roles always pass.
func (r *Registry) CheckCooldown(id int64, role identity.Role) (remaining int, ok bool) {
	if role.CooldownExempt() {
		return 0, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	last, seen := r.lastSent[id]
	if !seen {
		return 0, true
	}
	elapsed := r.now().Sub(last)
	if elapsed >= r.cooldown {
		return 0, true
	}

	left := r.cooldown - elapsed
	remaining = int((left + time.Second - 1) / time.Second)
	return remaining, false
}

// TouchCooldown records a successful send for cooldown accounting.
func (r *Registry) TouchCooldown(id int64) {
	r.mu.Lock()
	r.lastSent[id] = r.now()
	r.mu.Unlock()
}

// checkHierarchy re-fetches the target's live role and applies the actor vs
// target rules. The handshake role snapshot is never trusted here.
func (r *Registry) checkHierarchy(ctx context.Context, actor identity.Principal, targetID int64) error {
	if targetID <= 0 {
		return ErrUnknownTarget
	}

	u, err := r.dir.GetUserByID(ctx, targetID)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUnknownTarget
	}
	if !identity.CanModerate(actor.Role, u.Role) {
		return ErrNoPermission
	}
	return nil
}

func (r *Registry) publish(action string, actorID, targetID int64) {
	if r.pub == nil {
		return
	}
	e := audit.Entry{Action: action, ActorID: actorID, TargetID: targetID, At: r.now()}
	if err := r.pub.PublishAudit(e); err != nil {
		log.Printf("moderation: publish audit %s %d->%d: %v", action, actorID, targetID, err)
	}
}
