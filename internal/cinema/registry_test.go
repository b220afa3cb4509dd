package cinema

import (
	"errors"
	"testing"

	"github.com/tavern/community-app/internal/identity"
)

var (
	owner = identity.Principal{ID: 1, Username: "owner", DisplayName: "Owner", Role: identity.RoleUser}
	viewer = identity.Principal{ID: 2, Username: "viewer", DisplayName: "Viewer", Role: identity.RoleUser}
	mod    = identity.Principal{ID: 3, Username: "mod", DisplayName: "Mod", Role: identity.RoleModerator}
	guest  = identity.Principal{ID: -1, Username: "guest", DisplayName: "Guest", Role: identity.RoleGuest}
)

func newRoom(t *testing.T, r *Registry, password string) Summary {
	t.Helper()
	sum, err := r.Create(owner, "Movie Night", "https://v.example/1", password)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return sum
}

func TestCreate_EmptyNameRejected(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create(owner, "  ", "u", ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for blank name, got %v", err)
	}
}

func TestJoin_PasswordGate(t *testing.T) {
	r := NewRegistry()
	sum := newRoom(t, r, "1234")

	// Wrong password rejected.
	if _, err := r.Join(sum.ID, viewer, "c-viewer", "9999"); !errors.Is(err, ErrBadPassword) {
		t.Fatalf("expected ErrBadPassword, got %v", err)
	}

	// Correct password succeeds and returns the state snapshot.
	st, err := r.Join(sum.ID, viewer, "c-viewer", "1234")
	if err != nil {
		t.Fatalf("Join() with correct password: %v", err)
	}
	if st.VideoURL != "https://v.example/1" || st.IsPlaying {
		t.Errorf("unexpected state snapshot: %+v", st)
	}

	// Owner bypasses the password entirely.
	if _, err := r.Join(sum.ID, owner, "c-owner", ""); err != nil {
		t.Errorf("owner join should bypass password, got %v", err)
	}
}

func TestJoin_UnknownRoom(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Join("nope", viewer, "c1", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPlayback_ControlRights(t *testing.T) {
	r := NewRegistry()
	sum := newRoom(t, r, "")
	r.Join(sum.ID, owner, "c-owner", "")
	r.Join(sum.ID, viewer, "c-viewer", "")
	r.Join(sum.ID, mod, "c-mod", "")

	if _, err := r.SetPlayback("c-viewer", true, 10); !errors.Is(err, ErrNoPermission) {
		t.Errorf("viewer playback should be rejected, got %v", err)
	}

	st, err := r.SetPlayback("c-owner", true, 12.5)
	if err != nil {
		t.Fatalf("owner playback: %v", err)
	}
	if !st.IsPlaying || st.CurrentTime != 12.5 {
		t.Errorf("unexpected state: %+v", st)
	}

	st, err = r.SetPlayback("c-mod", false, 30)
	if err != nil {
		t.Fatalf("moderator playback: %v", err)
	}
	if st.IsPlaying || st.CurrentTime != 30 {
		t.Errorf("unexpected state after moderator pause: %+v", st)
	}
}

func TestChangeURL_ResetsPlayhead(t *testing.T) {
	r := NewRegistry()
	sum := newRoom(t, r, "")
	r.Join(sum.ID, owner, "c-owner", "")
	r.SetPlayback("c-owner", true, 55)

	st, err := r.ChangeURL("c-owner", "https://v.example/2")
	if err != nil {
		t.Fatalf("ChangeURL() error: %v", err)
	}
	if st.VideoURL != "https://v.example/2" || st.IsPlaying || st.CurrentTime != 0 {
		t.Errorf("expected paused state at t=0 on new url, got %+v", st)
	}
}

func TestUpdateSettings_ClearWinsOverSet(t *testing.T) {
	r := NewRegistry()
	sum := newRoom(t, r, "old")
	r.Join(sum.ID, owner, "c-owner", "")

	got, err := r.UpdateSettings("c-owner", "Renamed", "newpass", true)
	if err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("name = %q, want Renamed", got.Name)
	}
	if got.HasPassword {
		t.Error("clear flag must win over a simultaneous password set")
	}

	// Anyone can join now.
	if _, err := r.Join(sum.ID, viewer, "c-viewer", ""); err != nil {
		t.Errorf("join after password clear: %v", err)
	}
}

func TestDelete_RightsAndEviction(t *testing.T) {
	r := NewRegistry()
	sum := newRoom(t, r, "")
	r.Join(sum.ID, owner, "c-owner", "")
	r.Join(sum.ID, viewer, "c-viewer", "")

	if _, err := r.Delete(sum.ID, viewer.ID, viewer.Role); !errors.Is(err, ErrNoPermission) {
		t.Fatalf("viewer delete should be rejected, got %v", err)
	}

	viewers, err := r.Delete(sum.ID, mod.ID, mod.Role)
	if err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
	if len(viewers) != 2 {
		t.Errorf("expected 2 evicted viewers, got %d", len(viewers))
	}
	if r.Count() != 0 {
		t.Errorf("room still present after delete")
	}
	if _, ok := r.RoomOf("c-viewer"); ok {
		t.Error("viewer binding should be gone after room delete")
	}

	// Second delete of the same id is a not-found for the caller to swallow.
	if _, err := r.Delete(sum.ID, owner.ID, owner.Role); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on stale delete, got %v", err)
	}
}

func TestRoomChat_GuestsAllowed_OwnerOnlyClear(t *testing.T) {
	r := NewRegistry()
	sum := newRoom(t, r, "")
	r.Join(sum.ID, owner, "c-owner", "")
	r.Join(sum.ID, guest, "c-guest", "")
	r.Join(sum.ID, mod, "c-mod", "")

	if _, err := r.AppendMessage("c-guest", "hi from guest"); err != nil {
		t.Fatalf("guest room message: %v", err)
	}
	if _, err := r.AppendMessage("c-stranger", "not in room"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}

	// Clear is owner-only, narrower than general moderation.
	if _, err := r.ClearChat("c-mod"); !errors.Is(err, ErrNoPermission) {
		t.Errorf("moderator clear should be rejected, got %v", err)
	}
	roomID, err := r.ClearChat("c-owner")
	if err != nil {
		t.Fatalf("owner clear: %v", err)
	}
	if roomID != sum.ID {
		t.Errorf("ClearChat room id = %q, want %q", roomID, sum.ID)
	}
	if got := r.Messages(sum.ID); len(got) != 0 {
		t.Errorf("expected empty log after clear, got %d", len(got))
	}
}

func TestRoomChat_Bounded(t *testing.T) {
	r := NewRegistry()
	sum := newRoom(t, r, "")
	r.Join(sum.ID, owner, "c-owner", "")

	for i := 0; i < MaxRoomMessages+25; i++ {
		if _, err := r.AppendMessage("c-owner", "x"); err != nil {
			t.Fatalf("AppendMessage() error: %v", err)
		}
	}
	if got := len(r.Messages(sum.ID)); got != MaxRoomMessages {
		t.Errorf("room log length = %d, want %d", got, MaxRoomMessages)
	}
}

func TestLeave_RoomPersists(t *testing.T) {
	r := NewRegistry()
	sum := newRoom(t, r, "")
	r.Join(sum.ID, viewer, "c-viewer", "")

	roomID, ok := r.Leave("c-viewer")
	if !ok || roomID != sum.ID {
		t.Fatalf("Leave() = (%q, %v), want (%q, true)", roomID, ok, sum.ID)
	}
	if r.Count() != 1 {
		t.Error("empty room must persist until explicit deletion")
	}
	if _, ok := r.Leave("c-viewer"); ok {
		t.Error("second Leave should report not-in-room")
	}
}

func TestSummaries(t *testing.T) {
	r := NewRegistry()
	sum := newRoom(t, r, "pw")
	r.Join(sum.ID, owner, "c-owner", "")
	r.SetPlayback("c-owner", true, 1)

	sums := r.Summaries()
	if len(sums) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(sums))
	}
	s := sums[0]
	if !s.HasPassword || !s.IsPlaying || s.ParticipantCount != 1 || s.Name != "Movie Night" {
		t.Errorf("unexpected summary: %+v", s)
	}
}
