package gateway

import (
	"context"
	"errors"
	"log"

	"github.com/tavern/community-app/internal/chat"
	"github.com/tavern/community-app/internal/cinema"
	"github.com/tavern/community-app/internal/identity"
	"github.com/tavern/community-app/internal/metrics"
	"github.com/tavern/community-app/internal/moderation"
	"github.com/tavern/community-app/internal/protocol"
	"github.com/tavern/community-app/internal/ws"
)

// CinemaHandler serves the cinema namespace: the watch-together lobby and
// rooms. It implements ws.Handler. Connections here are independent of the
// global namespace and run their own handshake.
type CinemaHandler struct {
	tr      Transport
	dir     Directory
	guests  *identity.GuestIDs
	rooms   *cinema.Registry
	mods    *moderation.Registry
	clients *clientTable
	d       *ws.MessageDispatcher
}

// NewCinemaHandler wires the cinema namespace against its collaborators.
func NewCinemaHandler(tr Transport, dir Directory, guests *identity.GuestIDs, rooms *cinema.Registry, mods *moderation.Registry) *CinemaHandler {
	h := &CinemaHandler{
		tr:      tr,
		dir:     dir,
		guests:  guests,
		rooms:   rooms,
		mods:    mods,
		clients: newClientTable(),
		d:       ws.NewMessageDispatcher(),
	}

	h.d.Register(protocol.TypeAuth, h.handleAuth)
	h.d.Register(protocol.TypeCinemaCreate, h.handleCreate)
	h.d.Register(protocol.TypeCinemaJoin, h.handleJoin)
	h.d.Register(protocol.TypeCinemaLeave, h.handleLeave)
	h.d.Register(protocol.TypeCinemaPlay, h.playbackHandler(true))
	h.d.Register(protocol.TypeCinemaPause, h.playbackHandler(false))
	h.d.Register(protocol.TypeCinemaChangeURL, h.handleChangeURL)
	h.d.Register(protocol.TypeCinemaUpdateRoom, h.handleUpdateRoom)
	h.d.Register(protocol.TypeCinemaDeleteRoom, h.handleDeleteRoom)
	h.d.Register(protocol.TypeCinemaMessage, h.handleMessage)
	h.d.Register(protocol.TypeCinemaClearChat, h.handleClearChat)

	return h
}

// HandleOpen is a no-op; the connection stays mute until its auth frame.
func (h *CinemaHandler) HandleOpen(conn *ws.Connection) {}

// HandleMessage routes one frame through the namespace dispatcher.
func (h *CinemaHandler) HandleMessage(conn *ws.Connection, data []byte) {
	h.d.Dispatch(conn, data)
}

// HandleClose removes the connection from its room and drops its client
// state.
func (h *CinemaHandler) HandleClose(connID string) {
	if roomID, left := h.rooms.Leave(connID); left {
		h.broadcastParticipants(roomID)
	}
	if p, ok := h.clients.remove(connID); ok {
		log.Printf("gateway: cinema client left conn=%s user=%d", connID, p.ID)
	}
}

// KickUser drops the connection currently bound to a user, if any. Room
// cleanup happens through HandleClose.
func (h *CinemaHandler) KickUser(userID int64) {
	if connID, ok := h.clients.connFor(userID); ok {
		h.tr.Kick(connID)
	}
}

func (h *CinemaHandler) principal(conn *ws.Connection) (identity.Principal, bool) {
	p, ok := h.clients.get(conn.ID)
	if !ok {
		sendErr(h.tr, conn.ID, protocol.TypeError, protocol.CodeAuth, "authenticate first")
	}
	return p, ok
}

func (h *CinemaHandler) handleAuth(conn *ws.Connection, msg interface{}) {
	am := msg.(protocol.AuthMsg)

	if _, ok := h.clients.get(conn.ID); ok {
		sendErr(h.tr, conn.ID, protocol.TypeError, protocol.CodeInvalid, "already authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	p, banned, err := resolvePrincipal(ctx, h.dir, h.guests, am)
	if err != nil {
		log.Printf("gateway: cinema auth failed conn=%s: %v", conn.ID, err)
		sendErr(h.tr, conn.ID, protocol.TypeError, protocol.CodeAuth, "authentication failed")
		return
	}
	if banned || h.mods.IsBanned(p.ID) {
		sendErr(h.tr, conn.ID, protocol.TypeError, protocol.CodeBanned, "you are banned")
		h.tr.Kick(conn.ID)
		return
	}

	if evicted := h.clients.bind(conn.ID, p); evicted != "" {
		log.Printf("gateway: cinema rebind user=%d, dropping stale conn=%s", p.ID, evicted)
		h.tr.Kick(evicted)
	}

	send(h.tr, conn.ID, protocol.TypeAuthOK, protocol.AuthOKMsg{
		UserID:      p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
	})
	send(h.tr, conn.ID, protocol.TypeCinemaRooms, protocol.CinemaRoomsMsg{Rooms: h.rooms.Summaries()})
}

func (h *CinemaHandler) handleCreate(conn *ws.Connection, msg interface{}) {
	cm := msg.(protocol.CinemaCreateMsg)

	p, ok := h.principal(conn)
	if !ok {
		return
	}
	if p.IsGuest() {
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeNoPermission, "sign in to create rooms")
		return
	}

	sum, err := h.rooms.Create(p, cm.Name, cm.VideoURL, cm.Password)
	if err != nil {
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeInvalid, "invalid room")
		return
	}
	metrics.CinemaRooms.Set(float64(h.rooms.Count()))

	send(h.tr, conn.ID, protocol.TypeCinemaCreated, protocol.CinemaCreatedMsg{Room: sum})
	broadcast(h.tr, h.clients.connIDs(), protocol.TypeCinemaRoomAdded, protocol.CinemaRoomAddedMsg{Room: sum})
}

func (h *CinemaHandler) handleJoin(conn *ws.Connection, msg interface{}) {
	jm := msg.(protocol.CinemaJoinMsg)

	p, ok := h.principal(conn)
	if !ok {
		return
	}

	prev, hadPrev := h.rooms.RoomOf(conn.ID)

	st, err := h.rooms.Join(jm.RoomID, p, conn.ID, jm.Password)
	switch {
	case errors.Is(err, cinema.ErrNotFound):
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeInvalid, "room not found")
		return
	case errors.Is(err, cinema.ErrBadPassword):
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeNoPermission, "wrong password")
		return
	case err != nil:
		log.Printf("gateway: join room %s: %v", jm.RoomID, err)
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeInvalid, "join failed")
		return
	}

	// A connection can only be in one room; joining moved it.
	if hadPrev && prev != jm.RoomID {
		h.broadcastParticipants(prev)
	}

	send(h.tr, conn.ID, protocol.TypeCinemaState, protocol.CinemaStateMsg{State: st})
	send(h.tr, conn.ID, protocol.TypeCinemaMessagesInit, protocol.CinemaMessagesInitMsg{
		RoomID:   jm.RoomID,
		Messages: h.rooms.Messages(jm.RoomID),
	})
	h.broadcastParticipants(jm.RoomID)
}

func (h *CinemaHandler) handleLeave(conn *ws.Connection, msg interface{}) {
	if _, ok := h.principal(conn); !ok {
		return
	}
	if roomID, left := h.rooms.Leave(conn.ID); left {
		h.broadcastParticipants(roomID)
	}
}

// playbackHandler returns the handler for play (true) or pause (false). The
// controller's playhead is authoritative and is pushed to the whole room.
func (h *CinemaHandler) playbackHandler(playing bool) ws.MessageHandler {
	return func(conn *ws.Connection, msg interface{}) {
		pm := msg.(protocol.CinemaPlaybackMsg)

		p, ok := h.principal(conn)
		if !ok {
			return
		}

		st, err := h.rooms.SetPlayback(conn.ID, playing, pm.CurrentTime)
		if !h.reportRoomErr(conn, err) {
			return
		}

		broadcast(h.tr, h.rooms.ParticipantConnIDs(st.RoomID), protocol.TypeCinemaSync, protocol.CinemaSyncMsg{
			RoomID:      st.RoomID,
			IsPlaying:   st.IsPlaying,
			CurrentTime: st.CurrentTime,
			By:          p.Username,
		})
	}
}

func (h *CinemaHandler) handleChangeURL(conn *ws.Connection, msg interface{}) {
	cm := msg.(protocol.CinemaChangeURLMsg)

	p, ok := h.principal(conn)
	if !ok {
		return
	}

	st, err := h.rooms.ChangeURL(conn.ID, cm.VideoURL)
	if !h.reportRoomErr(conn, err) {
		return
	}

	broadcast(h.tr, h.rooms.ParticipantConnIDs(st.RoomID), protocol.TypeCinemaURLChanged, protocol.CinemaURLChangedMsg{
		RoomID:   st.RoomID,
		VideoURL: st.VideoURL,
		By:       p.Username,
	})
}

func (h *CinemaHandler) handleUpdateRoom(conn *ws.Connection, msg interface{}) {
	um := msg.(protocol.CinemaUpdateRoomMsg)

	if _, ok := h.principal(conn); !ok {
		return
	}

	sum, err := h.rooms.UpdateSettings(conn.ID, um.Name, um.Password, um.ClearPassword)
	if !h.reportRoomErr(conn, err) {
		return
	}

	broadcast(h.tr, h.clients.connIDs(), protocol.TypeCinemaRoomUpdated, protocol.CinemaRoomUpdatedMsg{Room: sum})
}

func (h *CinemaHandler) handleDeleteRoom(conn *ws.Connection, msg interface{}) {
	del := msg.(protocol.CinemaDeleteRoomMsg)

	p, ok := h.principal(conn)
	if !ok {
		return
	}

	_, err := h.rooms.Delete(del.RoomID, p.ID, p.Role)
	switch {
	case errors.Is(err, cinema.ErrNotFound):
		// Already deleted: silent no-op.
		return
	case errors.Is(err, cinema.ErrNoPermission):
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeNoPermission, "cannot delete this room")
		return
	case err != nil:
		log.Printf("gateway: delete room %s: %v", del.RoomID, err)
		return
	}
	metrics.CinemaRooms.Set(float64(h.rooms.Count()))

	// Everyone in the lobby, evicted viewers included, learns the room is
	// gone.
	broadcast(h.tr, h.clients.connIDs(), protocol.TypeCinemaRoomRemoved, protocol.CinemaRoomRemovedMsg{RoomID: del.RoomID})
}

func (h *CinemaHandler) handleMessage(conn *ws.Connection, msg interface{}) {
	cm := msg.(protocol.CinemaChatMsg)

	if _, ok := h.principal(conn); !ok {
		return
	}

	if err := chat.ValidateText(cm.Text); err != nil {
		if !errors.Is(err, chat.ErrEmpty) {
			sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeInvalid, "message rejected")
		}
		return
	}

	m, err := h.rooms.AppendMessage(conn.ID, cm.Text)
	if !h.reportRoomErr(conn, err) {
		return
	}
	metrics.MessagesTotal.WithLabelValues("cinema").Inc()

	broadcast(h.tr, h.rooms.ParticipantConnIDs(m.RoomID), protocol.TypeCinemaMessage, protocol.CinemaMessageMsg{Message: m})
}

func (h *CinemaHandler) handleClearChat(conn *ws.Connection, msg interface{}) {
	if _, ok := h.principal(conn); !ok {
		return
	}

	roomID, err := h.rooms.ClearChat(conn.ID)
	if !h.reportRoomErr(conn, err) {
		return
	}

	broadcast(h.tr, h.rooms.ParticipantConnIDs(roomID), protocol.TypeCinemaChatCleared, protocol.CinemaChatClearedMsg{RoomID: roomID})
}

// reportRoomErr maps registry errors onto wire codes. It returns true when
// err is nil and the caller may proceed.
func (h *CinemaHandler) reportRoomErr(conn *ws.Connection, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, cinema.ErrNotParticipant):
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeInvalid, "join a room first")
	case errors.Is(err, cinema.ErrNoPermission):
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeNoPermission, "not allowed")
	case errors.Is(err, cinema.ErrInvalid):
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeInvalid, "invalid request")
	default:
		log.Printf("gateway: cinema conn=%s: %v", conn.ID, err)
		sendErr(h.tr, conn.ID, protocol.TypeCinemaError, protocol.CodeInvalid, "request failed")
	}
	return false
}

// broadcastParticipants pushes the current roster to everyone in the room
// and the refreshed lobby entry to every cinema client, so participant
// counts stay current outside the room too.
func (h *CinemaHandler) broadcastParticipants(roomID string) {
	parts := h.rooms.Participants(roomID)
	broadcast(h.tr, h.rooms.ParticipantConnIDs(roomID), protocol.TypeCinemaParticipantUpdate, protocol.CinemaParticipantUpdateMsg{
		RoomID:       roomID,
		Count:        len(parts),
		Participants: parts,
	})

	if sum, ok := h.rooms.Summary(roomID); ok {
		broadcast(h.tr, h.clients.connIDs(), protocol.TypeCinemaRoomUpdated, protocol.CinemaRoomUpdatedMsg{Room: sum})
	}
}
