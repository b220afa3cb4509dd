// Package protocol defines the websocket message types exchanged between
// clients and the realtime server. All messages are JSON with a consistent
// envelope carrying a "type" discriminator; payload shapes form a closed set
// validated at the gateway boundary before dispatch.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tavern/community-app/internal/chat"
	"github.com/tavern/community-app/internal/cinema"
	"github.com/tavern/community-app/internal/dm"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuth = "auth"
	TypePing = "ping"

	TypeChatSend   = "chat:send"
	TypeChatDelete = "chat:delete"
	TypeChatClear  = "chat:clear"

	TypeModMute   = "mod:mute"
	TypeModUnmute = "mod:unmute"
	TypeModBan    = "mod:ban"
	TypeModUnban  = "mod:unban"

	TypeDMSend    = "dm:send"
	TypeDMHistory = "dm:history"
	TypeDMRead    = "dm:read"

	TypeCinemaCreate     = "cinema:create"
	TypeCinemaJoin       = "cinema:join"
	TypeCinemaLeave      = "cinema:leave"
	TypeCinemaPlay       = "cinema:play"
	TypeCinemaPause      = "cinema:pause"
	TypeCinemaChangeURL  = "cinema:change_url"
	TypeCinemaUpdateRoom = "cinema:update_room"
	TypeCinemaDeleteRoom = "cinema:delete_room"
	TypeCinemaMessage    = "cinema:message"
	TypeCinemaClearChat  = "cinema:clear_chat"
)

// Server -> Client message types.
const (
	TypeAuthOK = "auth:ok"
	TypePong   = "pong"
	TypeError  = "error"

	TypeChatInit    = "chat:init"
	TypeChatMessage = "chat:message"
	TypeChatDeleted = "chat:deleted"
	TypeChatCleared = "chat:cleared"
	TypeChatModLog  = "chat:modlog"
	TypeChatError   = "chat:error"

	TypeDMConversations      = "dm:conversations"
	TypeDMConversationUpdate = "dm:conversation_update"
	TypeDMMessage            = "dm:message"
	TypeDMHistoryResult      = "dm:history"
	TypeDMError              = "dm:error"

	TypeCinemaRooms             = "cinema:rooms"
	TypeCinemaRoomAdded         = "cinema:room_added"
	TypeCinemaRoomUpdated       = "cinema:room_updated"
	TypeCinemaRoomRemoved       = "cinema:room_removed"
	TypeCinemaCreated           = "cinema:created"
	TypeCinemaState             = "cinema:state"
	TypeCinemaMessagesInit      = "cinema:messages_init"
	TypeCinemaChatCleared       = "cinema:chat_cleared"
	TypeCinemaSync              = "cinema:sync"
	TypeCinemaURLChanged        = "cinema:url_changed"
	TypeCinemaParticipantUpdate = "cinema:participant_update"
	TypeCinemaError             = "cinema:error"
)

// Error codes carried by ErrorMsg. Stable machine-readable enum.
const (
	CodeCooldown     = "COOLDOWN"
	CodeMuted        = "MUTED"
	CodeBanned       = "BANNED"
	CodeNoPermission = "NO_PERMISSION"
	CodeAuth         = "AUTH"
	CodeInvalid      = "INVALID"
)

// ---------------------------------------------------------------------------
// Envelope — initial parse extracting the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// decoding into the concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthMsg is the handshake payload, sent as the first frame on every
// namespace. All fields are untrusted; a non-positive or absent user_id
// makes the connection a guest.
type AuthMsg struct {
	Type        string `json:"type"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Avatar      string `json:"avatar"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ChatSendMsg posts a message to the global room.
type ChatSendMsg struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to"`
	Avatar  string `json:"avatar"`
}

// ChatDeleteMsg removes a message from the global history by id.
type ChatDeleteMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// ChatClearMsg wipes the entire global history.
type ChatClearMsg struct {
	Type string `json:"type"`
}

// ModActionMsg targets a user for mute/unmute/ban/unban.
type ModActionMsg struct {
	Type     string `json:"type"`
	TargetID int64  `json:"target_id"`
}

// DMSendMsg sends a direct message.
type DMSendMsg struct {
	Type     string `json:"type"`
	ToUserID int64  `json:"to_user_id"`
	Text     string `json:"text"`
}

// DMHistoryMsg requests the message history with another user.
type DMHistoryMsg struct {
	Type       string `json:"type"`
	WithUserID int64  `json:"with_user_id"`
}

// DMReadMsg marks a conversation read without fetching history.
type DMReadMsg struct {
	Type       string `json:"type"`
	WithUserID int64  `json:"with_user_id"`
}

// CinemaCreateMsg creates a new watch-together room.
type CinemaCreateMsg struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	VideoURL string `json:"video_url"`
	Password string `json:"password"`
}

// CinemaJoinMsg joins a room, optionally with a password.
type CinemaJoinMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	Password string `json:"password"`
}

// CinemaLeaveMsg leaves the current room.
type CinemaLeaveMsg struct {
	Type string `json:"type"`
}

// CinemaPlaybackMsg carries a play or pause with the controller's playhead.
type CinemaPlaybackMsg struct {
	Type        string  `json:"type"`
	CurrentTime float64 `json:"current_time"`
}

// CinemaChangeURLMsg swaps the room's video url.
type CinemaChangeURLMsg struct {
	Type     string `json:"type"`
	VideoURL string `json:"video_url"`
}

// CinemaUpdateRoomMsg renames the room and/or sets or clears its password.
type CinemaUpdateRoomMsg struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	Password      string `json:"password"`
	ClearPassword bool   `json:"clear_password"`
}

// CinemaDeleteRoomMsg deletes a room by id.
type CinemaDeleteRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// CinemaChatMsg posts to the current room's chat.
type CinemaChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CinemaClearChatMsg wipes the current room's chat log.
type CinemaClearChatMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// AuthOKMsg confirms the handshake and echoes the resolved identity
// (including the sentinel id for guests).
type AuthOKMsg struct {
	Type        string `json:"type"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ErrorMsg communicates a typed error to the invoking connection only.
// RemainingSeconds is set for COOLDOWN errors.
type ErrorMsg struct {
	Type             string `json:"type"`
	Code             string `json:"code"`
	Message          string `json:"message"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}

// ChatInitMsg delivers the current global history to a fresh connection.
type ChatInitMsg struct {
	Type     string         `json:"type"`
	Messages []chat.Message `json:"messages"`
}

// ChatMessageMsg broadcasts a newly appended global message.
type ChatMessageMsg struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// ChatDeletedMsg broadcasts a deletion by message id.
type ChatDeletedMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// ChatClearedMsg broadcasts a full history wipe with the actor's identity.
type ChatClearedMsg struct {
	Type string `json:"type"`
	By   string `json:"by"`
	ByID int64  `json:"by_id"`
}

// ChatModLogMsg broadcasts a moderation action to the global room.
type ChatModLogMsg struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	Actor    string `json:"actor"`
	TargetID int64  `json:"target_id"`
}

// DMConversationsMsg pushes the full conversation list on connect.
type DMConversationsMsg struct {
	Type          string            `json:"type"`
	Conversations []dm.Conversation `json:"conversations"`
}

// DMConversationUpdateMsg upserts a single conversation-list entry.
type DMConversationUpdateMsg struct {
	Type         string          `json:"type"`
	Conversation dm.Conversation `json:"conversation"`
}

// DMMessageMsg delivers one direct message (echo to sender, push to
// recipient).
type DMMessageMsg struct {
	Type    string     `json:"type"`
	Message dm.Message `json:"message"`
}

// DMHistoryResultMsg answers a history request.
type DMHistoryResultMsg struct {
	Type       string       `json:"type"`
	WithUserID int64        `json:"with_user_id"`
	Messages   []dm.Message `json:"messages"`
}

// CinemaRoomsMsg is the lobby listing of all active rooms.
type CinemaRoomsMsg struct {
	Type  string           `json:"type"`
	Rooms []cinema.Summary `json:"rooms"`
}

// CinemaRoomAddedMsg announces a new room to the lobby.
type CinemaRoomAddedMsg struct {
	Type string         `json:"type"`
	Room cinema.Summary `json:"room"`
}

// CinemaRoomUpdatedMsg announces a settings change (name, password) to the
// lobby.
type CinemaRoomUpdatedMsg struct {
	Type string         `json:"type"`
	Room cinema.Summary `json:"room"`
}

// CinemaRoomRemovedMsg announces a room deletion to the lobby and evicts
// its viewers' client state.
type CinemaRoomRemovedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// CinemaCreatedMsg confirms room creation to the creator.
type CinemaCreatedMsg struct {
	Type string         `json:"type"`
	Room cinema.Summary `json:"room"`
}

// CinemaStateMsg pushes the authoritative playback snapshot to a joiner.
type CinemaStateMsg struct {
	Type  string       `json:"type"`
	State cinema.State `json:"state"`
}

// CinemaMessagesInitMsg delivers the room chat log to a joiner.
type CinemaMessagesInitMsg struct {
	Type     string           `json:"type"`
	RoomID   string           `json:"room_id"`
	Messages []cinema.Message `json:"messages"`
}

// CinemaMessageMsg broadcasts one room chat message.
type CinemaMessageMsg struct {
	Type    string         `json:"type"`
	Message cinema.Message `json:"message"`
}

// CinemaChatClearedMsg broadcasts a room chat wipe.
type CinemaChatClearedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// CinemaSyncMsg broadcasts an authoritative playback change; clients
// reconcile their local player to this snapshot.
type CinemaSyncMsg struct {
	Type        string  `json:"type"`
	RoomID      string  `json:"room_id"`
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time"`
	By          string  `json:"by"`
}

// CinemaURLChangedMsg broadcasts a video swap (playhead reset, paused).
type CinemaURLChangedMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	VideoURL string `json:"video_url"`
	By       string `json:"by"`
}

// CinemaParticipantUpdateMsg broadcasts the updated roster to a room.
type CinemaParticipantUpdateMsg struct {
	Type         string                   `json:"type"`
	RoomID       string                   `json:"room_id"`
	Count        int                      `json:"count"`
	Participants []cinema.ParticipantInfo `json:"participants"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw websocket bytes into a typed client message.
// It returns the message type, the decoded struct, and any error. Unknown or
// server-only types are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuth:
		var m AuthMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatSend:
		var m ChatSendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatDelete:
		var m ChatDeleteMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatClear:
		var m ChatClearMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeModMute, TypeModUnmute, TypeModBan, TypeModUnban:
		var m ModActionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDMSend:
		var m DMSendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDMHistory:
		var m DMHistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDMRead:
		var m DMReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCinemaCreate:
		var m CinemaCreateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCinemaJoin:
		var m CinemaJoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCinemaLeave:
		var m CinemaLeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCinemaPlay, TypeCinemaPause:
		var m CinemaPlaybackMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCinemaChangeURL:
		var m CinemaChangeURLMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCinemaUpdateRoom:
		var m CinemaUpdateRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCinemaDeleteRoom:
		var m CinemaDeleteRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCinemaMessage:
		var m CinemaChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCinemaClearChat:
		var m CinemaClearChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded server message. The msgType is
// injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
