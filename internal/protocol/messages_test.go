package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid auth message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Auth(t *testing.T) {
	input := []byte(`{"type":"auth","user_id":42,"username":"frodo","display_name":"Frodo B.","role":"vip","avatar":"ring.png"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeAuth {
		t.Fatalf("expected type %q, got %q", TypeAuth, msgType)
	}

	am, ok := msg.(AuthMsg)
	if !ok {
		t.Fatalf("expected AuthMsg, got %T", msg)
	}
	if am.UserID != 42 {
		t.Errorf("expected user_id 42, got %d", am.UserID)
	}
	if am.Username != "frodo" {
		t.Errorf("expected username %q, got %q", "frodo", am.Username)
	}
	if am.Role != "vip" {
		t.Errorf("expected role %q, got %q", "vip", am.Role)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat:send message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatSend(t *testing.T) {
	input := []byte(`{"type":"chat:send","text":"Hello!","reply_to":"msg-7"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeChatSend {
		t.Fatalf("expected type %q, got %q", TypeChatSend, msgType)
	}

	cm, ok := msg.(ChatSendMsg)
	if !ok {
		t.Fatalf("expected ChatSendMsg, got %T", msg)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
	if cm.ReplyTo != "msg-7" {
		t.Errorf("expected reply_to %q, got %q", "msg-7", cm.ReplyTo)
	}
}

// ---------------------------------------------------------------------------
// Test: Moderation actions all decode into the shared ModActionMsg
// ---------------------------------------------------------------------------

func TestParseClientMessage_ModActions(t *testing.T) {
	for _, typ := range []string{TypeModMute, TypeModUnmute, TypeModBan, TypeModUnban} {
		input := []byte(`{"type":"` + typ + `","target_id":99}`)

		msgType, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if msgType != typ {
			t.Fatalf("expected type %q, got %q", typ, msgType)
		}

		mm, ok := msg.(ModActionMsg)
		if !ok {
			t.Fatalf("%s: expected ModActionMsg, got %T", typ, msg)
		}
		if mm.TargetID != 99 {
			t.Errorf("%s: expected target_id 99, got %d", typ, mm.TargetID)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a dm:send message
// ---------------------------------------------------------------------------

func TestParseClientMessage_DMSend(t *testing.T) {
	input := []byte(`{"type":"dm:send","to_user_id":7,"text":"psst"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeDMSend {
		t.Fatalf("expected type %q, got %q", TypeDMSend, msgType)
	}

	dm, ok := msg.(DMSendMsg)
	if !ok {
		t.Fatalf("expected DMSendMsg, got %T", msg)
	}
	if dm.ToUserID != 7 {
		t.Errorf("expected to_user_id 7, got %d", dm.ToUserID)
	}
	if dm.Text != "psst" {
		t.Errorf("expected text %q, got %q", "psst", dm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Play and pause share the playback struct
// ---------------------------------------------------------------------------

func TestParseClientMessage_CinemaPlayback(t *testing.T) {
	input := []byte(`{"type":"cinema:play","current_time":93.5}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeCinemaPlay {
		t.Fatalf("expected type %q, got %q", TypeCinemaPlay, msgType)
	}

	pm, ok := msg.(CinemaPlaybackMsg)
	if !ok {
		t.Fatalf("expected CinemaPlaybackMsg, got %T", msg)
	}
	if pm.CurrentTime != 93.5 {
		t.Errorf("expected current_time 93.5, got %v", pm.CurrentTime)
	}

	input = []byte(`{"type":"cinema:pause","current_time":12}`)
	msgType, msg, err = ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeCinemaPause {
		t.Fatalf("expected type %q, got %q", TypeCinemaPause, msgType)
	}
	if _, ok := msg.(CinemaPlaybackMsg); !ok {
		t.Fatalf("expected CinemaPlaybackMsg, got %T", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating an error server message with remaining seconds
// ---------------------------------------------------------------------------

func TestNewServerMessage_CooldownError(t *testing.T) {
	payload := ErrorMsg{
		Code:             CodeCooldown,
		Message:          "slow down",
		RemainingSeconds: 3,
	}

	data, err := NewServerMessage(TypeError, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal server message: %v", err)
	}
	if decoded["type"] != TypeError {
		t.Errorf("expected type %q, got %v", TypeError, decoded["type"])
	}
	if decoded["code"] != CodeCooldown {
		t.Errorf("expected code %q, got %v", CodeCooldown, decoded["code"])
	}
	if decoded["remaining_seconds"] != float64(3) {
		t.Errorf("expected remaining_seconds 3, got %v", decoded["remaining_seconds"])
	}
}

// ---------------------------------------------------------------------------
// Test: remaining_seconds is omitted when zero
// ---------------------------------------------------------------------------

func TestNewServerMessage_ErrorOmitsZeroRemaining(t *testing.T) {
	payload := ErrorMsg{Code: CodeNoPermission, Message: "nope"}

	data, err := NewServerMessage(TypeError, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal server message: %v", err)
	}
	if _, present := decoded["remaining_seconds"]; present {
		t.Errorf("expected remaining_seconds to be omitted, got %v", decoded["remaining_seconds"])
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerMessage injects the type over the payload's zero value
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypePong, PongMsg{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal server message: %v", err)
	}
	if decoded["type"] != TypePong {
		t.Errorf("expected type %q, got %v", TypePong, decoded["type"])
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"teleport","destination":"moon"}`)

	msgType, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
	if msgType != "teleport" {
		t.Errorf("expected returned type %q, got %q", "teleport", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Missing type field returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"text":"no type here"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for missing type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Invalid JSON returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	input := []byte(`{"type":"ping"`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only types are rejected from clients
// ---------------------------------------------------------------------------

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"chat:message"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for server-only type, got nil")
	}
}
