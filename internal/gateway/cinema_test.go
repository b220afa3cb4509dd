package gateway

import (
	"testing"

	"github.com/tavern/community-app/internal/protocol"
)

// createRoom performs a cinema:create and returns the new room id.
func createRoom(t *testing.T, h *CinemaHandler, tr *fakeTransport, connID, name, password string) string {
	t.Helper()
	h.HandleMessage(conn(connID), frame(`{"type":"cinema:create","name":%q,"video_url":"https://v.example/clip","password":%q}`, name, password))
	created := tr.lastOfType(t, connID, protocol.TypeCinemaCreated)
	return created["room"].(map[string]interface{})["id"].(string)
}

// ---------------------------------------------------------------------------
// Test: Auth pushes the lobby listing; create announces the room
// ---------------------------------------------------------------------------

func TestCinema_CreateAnnouncesRoom(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "lobby", 4)

	tr.lastOfType(t, "lobby", protocol.TypeCinemaRooms)

	roomID := createRoom(t, h, tr, "owner", "movie night", "")

	added := tr.lastOfType(t, "lobby", protocol.TypeCinemaRoomAdded)
	room := added["room"].(map[string]interface{})
	if room["id"] != roomID {
		t.Fatalf("expected announced room %q, got %v", roomID, room["id"])
	}
	if room["name"] != "movie night" {
		t.Errorf("expected room name, got %v", room["name"])
	}
}

// ---------------------------------------------------------------------------
// Test: Joining delivers state, chat log, and a roster update
// ---------------------------------------------------------------------------

func TestCinema_JoinDeliversStateAndRoster(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "viewer", 4)

	roomID := createRoom(t, h, tr, "owner", "movie night", "")
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))

	st := tr.lastOfType(t, "viewer", protocol.TypeCinemaState)
	state := st["state"].(map[string]interface{})
	if state["room_id"] != roomID {
		t.Fatalf("expected state for joined room, got %v", state["room_id"])
	}
	if state["is_playing"] != false {
		t.Errorf("expected a fresh room to be paused, got %v", state["is_playing"])
	}
	tr.lastOfType(t, "viewer", protocol.TypeCinemaMessagesInit)

	upd := tr.lastOfType(t, "owner", protocol.TypeCinemaParticipantUpdate)
	if count := int(upd["count"].(float64)); count != 2 {
		t.Errorf("expected 2 participants, got %d", count)
	}
}

// ---------------------------------------------------------------------------
// Test: Password gate — wrong password rejected, owner bypasses
// ---------------------------------------------------------------------------

func TestCinema_PasswordGate(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "viewer", 4)

	roomID := createRoom(t, h, tr, "owner", "private", "sekret")

	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":%q,"password":"wrong"}`, roomID))
	e := tr.lastOfType(t, "viewer", protocol.TypeCinemaError)
	if e["code"] != protocol.CodeNoPermission {
		t.Fatalf("expected code %q, got %v", protocol.CodeNoPermission, e["code"])
	}

	// The owner joins without any password.
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	tr.lastOfType(t, "owner", protocol.TypeCinemaState)

	// The right password works.
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":%q,"password":"sekret"}`, roomID))
	tr.lastOfType(t, "viewer", protocol.TypeCinemaState)
}

// ---------------------------------------------------------------------------
// Test: Joining a missing room is an INVALID error
// ---------------------------------------------------------------------------

func TestCinema_JoinMissingRoom(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "viewer", 4)

	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":"nope"}`))

	e := tr.lastOfType(t, "viewer", protocol.TypeCinemaError)
	if e["code"] != protocol.CodeInvalid {
		t.Fatalf("expected code %q, got %v", protocol.CodeInvalid, e["code"])
	}
}

// ---------------------------------------------------------------------------
// Test: Playback control — viewers denied, owner syncs the room
// ---------------------------------------------------------------------------

func TestCinema_PlaybackControl(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "viewer", 4)

	roomID := createRoom(t, h, tr, "owner", "movie night", "")
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))

	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:play","current_time":10}`))
	e := tr.lastOfType(t, "viewer", protocol.TypeCinemaError)
	if e["code"] != protocol.CodeNoPermission {
		t.Fatalf("expected code %q, got %v", protocol.CodeNoPermission, e["code"])
	}

	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:play","current_time":42.5}`))
	sync := tr.lastOfType(t, "viewer", protocol.TypeCinemaSync)
	if sync["is_playing"] != true {
		t.Fatalf("expected playing sync, got %v", sync["is_playing"])
	}
	if sync["current_time"].(float64) != 42.5 {
		t.Errorf("expected playhead 42.5, got %v", sync["current_time"])
	}
	if sync["by"] != "alice" {
		t.Errorf("expected sync attributed to alice, got %v", sync["by"])
	}
}

// ---------------------------------------------------------------------------
// Test: Changing the video resets and pauses for the whole room
// ---------------------------------------------------------------------------

func TestCinema_ChangeURL(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "viewer", 4)

	roomID := createRoom(t, h, tr, "owner", "movie night", "")
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:play","current_time":99}`))

	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:change_url","video_url":"https://v.example/next"}`))

	ch := tr.lastOfType(t, "viewer", protocol.TypeCinemaURLChanged)
	if ch["video_url"] != "https://v.example/next" {
		t.Fatalf("expected new url, got %v", ch["video_url"])
	}
}

// ---------------------------------------------------------------------------
// Test: Guests may chat in rooms but not create them
// ---------------------------------------------------------------------------

func TestCinema_GuestChatAllowedCreateDenied(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "guest", 0)

	h.HandleMessage(conn("guest"), frame(`{"type":"cinema:create","name":"mine"}`))
	e := tr.lastOfType(t, "guest", protocol.TypeCinemaError)
	if e["code"] != protocol.CodeNoPermission {
		t.Fatalf("expected code %q, got %v", protocol.CodeNoPermission, e["code"])
	}

	roomID := createRoom(t, h, tr, "owner", "movie night", "")
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("guest"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("guest"), frame(`{"type":"cinema:message","text":"great pick"}`))

	f := tr.lastOfType(t, "owner", protocol.TypeCinemaMessage)
	msg := f["message"].(map[string]interface{})
	if msg["text"] != "great pick" {
		t.Fatalf("expected room chat broadcast, got %v", msg["text"])
	}
	if int64(msg["user_id"].(float64)) >= 0 {
		t.Errorf("expected a guest sender id, got %v", msg["user_id"])
	}
}

// ---------------------------------------------------------------------------
// Test: Delete evicts the room; a stale delete is silent
// ---------------------------------------------------------------------------

func TestCinema_DeleteRoom(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "viewer", 4)

	roomID := createRoom(t, h, tr, "owner", "doomed", "")
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))

	// Viewers cannot delete.
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:delete_room","room_id":%q}`, roomID))
	e := tr.lastOfType(t, "viewer", protocol.TypeCinemaError)
	if e["code"] != protocol.CodeNoPermission {
		t.Fatalf("expected code %q, got %v", protocol.CodeNoPermission, e["code"])
	}

	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:delete_room","room_id":%q}`, roomID))
	removed := tr.lastOfType(t, "viewer", protocol.TypeCinemaRoomRemoved)
	if removed["room_id"] != roomID {
		t.Fatalf("expected removal for %q, got %v", roomID, removed["room_id"])
	}

	// Deleting again: silent no-op, no new error frame.
	before := len(tr.framesOfType("owner", protocol.TypeCinemaError))
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:delete_room","room_id":%q}`, roomID))
	if after := len(tr.framesOfType("owner", protocol.TypeCinemaError)); after != before {
		t.Errorf("expected stale delete to be silent")
	}
}

// ---------------------------------------------------------------------------
// Test: Disconnect leaves the room and updates the roster
// ---------------------------------------------------------------------------

func TestCinema_DisconnectLeavesRoom(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "viewer", 4)

	roomID := createRoom(t, h, tr, "owner", "movie night", "")
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))

	h.HandleClose("viewer")

	upd := tr.lastOfType(t, "owner", protocol.TypeCinemaParticipantUpdate)
	if count := int(upd["count"].(float64)); count != 1 {
		t.Fatalf("expected 1 participant after disconnect, got %d", count)
	}
}

// ---------------------------------------------------------------------------
// Test: Roster changes refresh the lobby listing for every client
// ---------------------------------------------------------------------------

func TestCinema_RosterChangeUpdatesLobby(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "viewer", 4)
	authAs(t, h, tr, "lobby", 5)

	roomID := createRoom(t, h, tr, "owner", "movie night", "")
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))

	// A client outside the room sees the new participant count.
	upd := tr.lastOfType(t, "lobby", protocol.TypeCinemaRoomUpdated)
	room := upd["room"].(map[string]interface{})
	if room["id"] != roomID {
		t.Fatalf("expected lobby update for %q, got %v", roomID, room["id"])
	}
	if count := int(room["participant_count"].(float64)); count != 2 {
		t.Fatalf("expected 2 participants in the lobby entry, got %d", count)
	}

	h.HandleClose("viewer")

	upd = tr.lastOfType(t, "lobby", protocol.TypeCinemaRoomUpdated)
	room = upd["room"].(map[string]interface{})
	if count := int(room["participant_count"].(float64)); count != 1 {
		t.Fatalf("expected 1 participant after disconnect, got %d", count)
	}
}

// ---------------------------------------------------------------------------
// Test: Owner-only room chat clear
// ---------------------------------------------------------------------------

func TestCinema_ClearChatOwnerOnly(t *testing.T) {
	h, tr := newCinemaFixture()
	authAs(t, h, tr, "owner", 3)
	authAs(t, h, tr, "viewer", 4)

	roomID := createRoom(t, h, tr, "owner", "movie night", "")
	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:join","room_id":%q}`, roomID))
	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:message","text":"hello"}`))

	h.HandleMessage(conn("viewer"), frame(`{"type":"cinema:clear_chat"}`))
	e := tr.lastOfType(t, "viewer", protocol.TypeCinemaError)
	if e["code"] != protocol.CodeNoPermission {
		t.Fatalf("expected code %q, got %v", protocol.CodeNoPermission, e["code"])
	}

	h.HandleMessage(conn("owner"), frame(`{"type":"cinema:clear_chat"}`))
	cleared := tr.lastOfType(t, "viewer", protocol.TypeCinemaChatCleared)
	if cleared["room_id"] != roomID {
		t.Errorf("expected clear for %q, got %v", roomID, cleared["room_id"])
	}
}
