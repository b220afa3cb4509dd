// Package cinema implements watch-together rooms: a multi-room registry
// where each room carries an authoritative video state (url, playing,
// playhead), a participant roster, a room-scoped chat log, an optional
// bcrypt-hashed password, and ownership-based control rights. Rooms live
// until explicitly deleted.
package cinema

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tavern/community-app/internal/identity"
)

// MaxRoomMessages bounds each room's chat log; oldest entries are evicted.
const MaxRoomMessages = 100

var (
	ErrNotFound       = errors.New("cinema: room not found")
	ErrBadPassword    = errors.New("cinema: wrong password")
	ErrNoPermission   = errors.New("cinema: not allowed")
	ErrNotParticipant = errors.New("cinema: not in room")
	ErrInvalid        = errors.New("cinema: invalid request")
)

// Message is one room-scoped chat message.
type Message struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"room_id"`
	UserID      int64         `json:"user_id"`
	Username    string        `json:"username"`
	DisplayName string        `json:"display_name"`
	Role        identity.Role `json:"role"`
	Avatar      string        `json:"avatar,omitempty"`
	Text        string        `json:"text"`
	CreatedAt   int64         `json:"created_at"`
}

// State is the authoritative playback snapshot for a room.
type State struct {
	RoomID      string  `json:"room_id"`
	VideoURL    string  `json:"video_url"`
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time"`
}

// Summary is the lobby-listing view of a room.
type Summary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	HasPassword      bool   `json:"has_password"`
	IsPlaying        bool   `json:"is_playing"`
	ParticipantCount int    `json:"participant_count"`
}

// ParticipantInfo is the roster entry broadcast to room members.
type ParticipantInfo struct {
	UserID      int64         `json:"user_id"`
	Username    string        `json:"username"`
	DisplayName string        `json:"display_name"`
	Role        identity.Role `json:"role"`
}

type room struct {
	id           string
	name         string
	passwordHash []byte
	videoURL     string
	isPlaying    bool
	currentTime  float64
	ownerID      int64
	createdAt    time.Time
	participants map[string]identity.Principal // connID -> principal
	messages     []Message
}

func (r *room) canControl(actorID int64, role identity.Role) bool {
	return actorID == r.ownerID || role.ModEligible()
}

func (r *room) summary() Summary {
	return Summary{
		ID:               r.id,
		Name:             r.name,
		HasPassword:      len(r.passwordHash) > 0,
		IsPlaying:        r.isPlaying,
		ParticipantCount: len(r.participants),
	}
}

func (r *room) state() State {
	return State{RoomID: r.id, VideoURL: r.videoURL, IsPlaying: r.isPlaying, CurrentTime: r.currentTime}
}

// Registry owns all cinema rooms behind a single mutex.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*room
	byConn map[string]string // connID -> roomID
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*room),
		byConn: make(map[string]string),
	}
}

// Create makes a new room owned by the creator. A non-empty password is
// bcrypt-hashed; the plaintext is never retained.
func (r *Registry) Create(owner identity.Principal, name, videoURL, password string) (Summary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Summary{}, ErrInvalid
	}

	var hash []byte
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return Summary{}, err
		}
		hash = h
	}

	rm := &room{
		id:           uuid.New().String(),
		name:         name,
		passwordHash: hash,
		videoURL:     videoURL,
		ownerID:      owner.ID,
		createdAt:    time.Now(),
		participants: make(map[string]identity.Principal),
	}

	r.mu.Lock()
	r.rooms[rm.id] = rm
	r.mu.Unlock()

	return rm.summary(), nil
}

// Join adds a connection to the roster. The owner always bypasses the
// password check; everyone else must match when a password is set. A
// connection already in another room is moved. Returns the playback
// snapshot for the joiner.
func (r *Registry) Join(roomID string, p identity.Principal, connID, password string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return State{}, ErrNotFound
	}

	if p.ID != rm.ownerID && len(rm.passwordHash) > 0 {
		if bcrypt.CompareHashAndPassword(rm.passwordHash, []byte(password)) != nil {
			return State{}, ErrBadPassword
		}
	}

	if prev, ok := r.byConn[connID]; ok && prev != roomID {
		if prevRoom, ok := r.rooms[prev]; ok {
			delete(prevRoom.participants, connID)
		}
	}

	rm.participants[connID] = p
	r.byConn[connID] = roomID
	return rm.state(), nil
}

// Leave removes a connection from whatever room it is in. Empty rooms
// persist until explicit deletion. Returns the room id left, if any.
func (r *Registry) Leave(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	if rm, ok := r.rooms[roomID]; ok {
		delete(rm.participants, connID)
	}
	return roomID, true
}

// RoomOf returns the room id a connection currently occupies.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.byConn[connID]
	return roomID, ok
}

// SetPlayback applies a play or pause from the given connection. Only the
// room owner or a moderation-eligible role may control playback; the
// controller's currentTime is authoritative.
func (r *Registry) SetPlayback(connID string, playing bool, currentTime float64) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, p, err := r.participantLocked(connID)
	if err != nil {
		return State{}, err
	}
	if !rm.canControl(p.ID, p.Role) {
		return State{}, ErrNoPermission
	}

	rm.isPlaying = playing
	rm.currentTime = currentTime
	return rm.state(), nil
}

// ChangeURL swaps the room's video. The playhead resets to zero and playback
// pauses.
func (r *Registry) ChangeURL(connID, videoURL string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, p, err := r.participantLocked(connID)
	if err != nil {
		return State{}, err
	}
	if !rm.canControl(p.ID, p.Role) {
		return State{}, ErrNoPermission
	}

	rm.videoURL = videoURL
	rm.currentTime = 0
	rm.isPlaying = false
	return rm.state(), nil
}

// UpdateSettings renames the room and/or sets or clears its password.
// Clearing takes precedence when both a new password and the clear flag
// arrive together.
func (r *Registry) UpdateSettings(connID, name, password string, clearPassword bool) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, p, err := r.participantLocked(connID)
	if err != nil {
		return Summary{}, err
	}
	if !rm.canControl(p.ID, p.Role) {
		return Summary{}, ErrNoPermission
	}

	if name = strings.TrimSpace(name); name != "" {
		rm.name = name
	}
	switch {
	case clearPassword:
		rm.passwordHash = nil
	case password != "":
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return Summary{}, err
		}
		rm.passwordHash = h
	}
	return rm.summary(), nil
}

// Delete removes a room entirely and returns the connection ids of its
// viewers so the caller can evict their client state. Deleting an id that is
// already gone reports ErrNotFound for the caller to swallow.
func (r *Registry) Delete(roomID string, actorID int64, role identity.Role) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	if !rm.canControl(actorID, role) {
		return nil, ErrNoPermission
	}

	viewers := make([]string, 0, len(rm.participants))
	for connID := range rm.participants {
		viewers = append(viewers, connID)
		delete(r.byConn, connID)
	}
	delete(r.rooms, roomID)
	return viewers, nil
}

// AppendMessage posts to the room chat of whatever room the connection is
// in. Any participant may post, guests included; the global mute/cooldown
// rules deliberately do not apply here.
func (r *Registry) AppendMessage(connID, text string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, p, err := r.participantLocked(connID)
	if err != nil {
		return Message{}, err
	}

	m := Message{
		ID:          uuid.New().String(),
		RoomID:      rm.id,
		UserID:      p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		Avatar:      p.Avatar,
		Text:        text,
		CreatedAt:   time.Now().UnixMilli(),
	}
	rm.messages = append(rm.messages, m)
	if len(rm.messages) > MaxRoomMessages {
		rm.messages = rm.messages[len(rm.messages)-MaxRoomMessages:]
	}
	return m, nil
}

// ClearChat wipes the room chat log. Owner only; this is narrower than the
// global clear rights on purpose.
func (r *Registry) ClearChat(connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, p, err := r.participantLocked(connID)
	if err != nil {
		return "", err
	}
	if p.ID != rm.ownerID {
		return "", ErrNoPermission
	}
	rm.messages = nil
	return rm.id, nil
}

// Messages returns the room chat log in send order.
func (r *Registry) Messages(roomID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Message, len(rm.messages))
	copy(out, rm.messages)
	return out
}

// Participants returns the roster of a room.
func (r *Registry) Participants(roomID string) []ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]ParticipantInfo, 0, len(rm.participants))
	for _, p := range rm.participants {
		out = append(out, ParticipantInfo{UserID: p.ID, Username: p.Username, DisplayName: p.DisplayName, Role: p.Role})
	}
	return out
}

// ParticipantConnIDs returns the connection ids currently in a room.
func (r *Registry) ParticipantConnIDs(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rm.participants))
	for connID := range rm.participants {
		out = append(out, connID)
	}
	return out
}

// State returns the playback snapshot for a room.
func (r *Registry) State(roomID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return State{}, false
	}
	return rm.state(), true
}

// Summary returns the lobby entry for one room.
func (r *Registry) Summary(roomID string) (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Summary{}, false
	}
	return rm.summary(), true
}

// Summaries returns the lobby listing of all rooms.
func (r *Registry) Summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Summary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm.summary())
	}
	return out
}

// Count returns the number of active rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) participantLocked(connID string) (*room, identity.Principal, error) {
	roomID, ok := r.byConn[connID]
	if !ok {
		return nil, identity.Principal{}, ErrNotParticipant
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, identity.Principal{}, ErrNotFound
	}
	p, ok := rm.participants[connID]
	if !ok {
		return nil, identity.Principal{}, ErrNotParticipant
	}
	return rm, p, nil
}
