package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tavern/community-app/internal/audit"
	"github.com/tavern/community-app/internal/chat"
	"github.com/tavern/community-app/internal/dm"
	"github.com/tavern/community-app/internal/identity"
	"github.com/tavern/community-app/internal/metrics"
	"github.com/tavern/community-app/internal/moderation"
	"github.com/tavern/community-app/internal/protocol"
	"github.com/tavern/community-app/internal/ws"
)

// lookupTimeout bounds directory reads performed inside message handlers.
const lookupTimeout = 3 * time.Second

// GlobalHandler serves the global namespace: community chat, direct
// messages, and moderation commands. It implements ws.Handler.
type GlobalHandler struct {
	tr      Transport
	dir     Directory
	guests  *identity.GuestIDs
	hist    *chat.History
	dms     *dm.Store
	mods    *moderation.Registry
	clients *clientTable
	d       *ws.MessageDispatcher
	onBan   func(userID int64) // optional cross-namespace eviction hook
}

// NewGlobalHandler wires the global namespace against its collaborators.
func NewGlobalHandler(tr Transport, dir Directory, guests *identity.GuestIDs, hist *chat.History, dms *dm.Store, mods *moderation.Registry) *GlobalHandler {
	h := &GlobalHandler{
		tr:      tr,
		dir:     dir,
		guests:  guests,
		hist:    hist,
		dms:     dms,
		mods:    mods,
		clients: newClientTable(),
		d:       ws.NewMessageDispatcher(),
	}

	h.d.Register(protocol.TypeAuth, h.handleAuth)
	h.d.Register(protocol.TypeChatSend, h.handleChatSend)
	h.d.Register(protocol.TypeChatDelete, h.handleChatDelete)
	h.d.Register(protocol.TypeChatClear, h.handleChatClear)
	h.d.Register(protocol.TypeModMute, h.modHandler(audit.ActionMute))
	h.d.Register(protocol.TypeModUnmute, h.modHandler(audit.ActionUnmute))
	h.d.Register(protocol.TypeModBan, h.modHandler(audit.ActionBan))
	h.d.Register(protocol.TypeModUnban, h.modHandler(audit.ActionUnban))
	h.d.Register(protocol.TypeDMSend, h.handleDMSend)
	h.d.Register(protocol.TypeDMHistory, h.handleDMHistory)
	h.d.Register(protocol.TypeDMRead, h.handleDMRead)

	return h
}

// SetOnBan installs a hook invoked after a successful ban so other
// namespaces can drop the target's connections too.
func (h *GlobalHandler) SetOnBan(fn func(userID int64)) {
	h.onBan = fn
}

// HandleOpen is a no-op; the connection stays mute until its auth frame.
func (h *GlobalHandler) HandleOpen(conn *ws.Connection) {}

// HandleMessage routes one frame through the namespace dispatcher.
func (h *GlobalHandler) HandleMessage(conn *ws.Connection, data []byte) {
	h.d.Dispatch(conn, data)
}

// HandleClose drops the connection's client state.
func (h *GlobalHandler) HandleClose(connID string) {
	if p, ok := h.clients.remove(connID); ok {
		log.Printf("gateway: global client left conn=%s user=%d", connID, p.ID)
	}
}

// KickUser drops the connection currently bound to a user, if any.
func (h *GlobalHandler) KickUser(userID int64) {
	if connID, ok := h.clients.connFor(userID); ok {
		h.tr.Kick(connID)
	}
}

// principal returns the authenticated principal for a connection, sending
// an AUTH error when the connection never completed its handshake.
func (h *GlobalHandler) principal(conn *ws.Connection) (identity.Principal, bool) {
	p, ok := h.clients.get(conn.ID)
	if !ok {
		sendErr(h.tr, conn.ID, protocol.TypeError, protocol.CodeAuth, "authenticate first")
	}
	return p, ok
}

func (h *GlobalHandler) handleAuth(conn *ws.Connection, msg interface{}) {
	am := msg.(protocol.AuthMsg)

	if _, ok := h.clients.get(conn.ID); ok {
		sendErr(h.tr, conn.ID, protocol.TypeError, protocol.CodeInvalid, "already authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	p, banned, err := resolvePrincipal(ctx, h.dir, h.guests, am)
	if err != nil {
		log.Printf("gateway: auth failed conn=%s: %v", conn.ID, err)
		sendErr(h.tr, conn.ID, protocol.TypeError, protocol.CodeAuth, "authentication failed")
		return
	}
	if banned || h.mods.IsBanned(p.ID) {
		sendErr(h.tr, conn.ID, protocol.TypeError, protocol.CodeBanned, "you are banned")
		h.tr.Kick(conn.ID)
		return
	}

	if evicted := h.clients.bind(conn.ID, p); evicted != "" {
		log.Printf("gateway: rebind user=%d, dropping stale conn=%s", p.ID, evicted)
		h.tr.Kick(evicted)
	}

	send(h.tr, conn.ID, protocol.TypeAuthOK, protocol.AuthOKMsg{
		UserID:      p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
	})
	send(h.tr, conn.ID, protocol.TypeChatInit, protocol.ChatInitMsg{Messages: h.hist.Snapshot()})

	if !p.IsGuest() {
		convs := h.dms.Conversations(p.ID)
		for i := range convs {
			h.fillConversation(&convs[i])
		}
		send(h.tr, conn.ID, protocol.TypeDMConversations, protocol.DMConversationsMsg{Conversations: convs})
	}
}

func (h *GlobalHandler) handleChatSend(conn *ws.Connection, msg interface{}) {
	cm := msg.(protocol.ChatSendMsg)

	p, ok := h.principal(conn)
	if !ok {
		return
	}
	if h.mods.IsBanned(p.ID) {
		sendErr(h.tr, conn.ID, protocol.TypeError, protocol.CodeBanned, "you are banned")
		h.tr.Kick(conn.ID)
		return
	}
	if h.mods.IsMuted(p.ID) {
		sendErr(h.tr, conn.ID, protocol.TypeChatError, protocol.CodeMuted, "you are muted")
		return
	}

	if err := chat.ValidateText(cm.Text); err != nil {
		// Empty text is a silent no-op rather than an error event.
		if !errors.Is(err, chat.ErrEmpty) {
			sendErr(h.tr, conn.ID, protocol.TypeChatError, protocol.CodeInvalid, "message rejected")
		}
		return
	}

	if remaining, allowed := h.mods.CheckCooldown(p.ID, p.Role); !allowed {
		send(h.tr, conn.ID, protocol.TypeChatError, protocol.ErrorMsg{
			Code:             protocol.CodeCooldown,
			Message:          "you are sending messages too quickly",
			RemainingSeconds: remaining,
		})
		return
	}

	// A per-message avatar overrides the handshake snapshot.
	avatar := p.Avatar
	if cm.Avatar != "" {
		avatar = cm.Avatar
	}

	m := chat.Message{
		ID:          uuid.New().String(),
		AuthorID:    p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		Avatar:      avatar,
		Text:        cm.Text,
		ReplyTo:     cm.ReplyTo,
		CreatedAt:   time.Now().UnixMilli(),
	}
	h.hist.Append(m)
	h.mods.TouchCooldown(p.ID)
	metrics.MessagesTotal.WithLabelValues("global").Inc()

	broadcast(h.tr, h.clients.connIDs(), protocol.TypeChatMessage, protocol.ChatMessageMsg{Message: m})
}

func (h *GlobalHandler) handleChatDelete(conn *ws.Connection, msg interface{}) {
	del := msg.(protocol.ChatDeleteMsg)

	p, ok := h.principal(conn)
	if !ok {
		return
	}

	m, found := h.hist.Get(del.MessageID)
	if !found {
		// Already evicted or deleted: silent no-op.
		return
	}
	if m.AuthorID != p.ID && !p.Role.ModEligible() {
		sendErr(h.tr, conn.ID, protocol.TypeChatError, protocol.CodeNoPermission, "cannot delete this message")
		return
	}

	if h.hist.Remove(del.MessageID) {
		broadcast(h.tr, h.clients.connIDs(), protocol.TypeChatDeleted, protocol.ChatDeletedMsg{MessageID: del.MessageID})
	}
}

func (h *GlobalHandler) handleChatClear(conn *ws.Connection, msg interface{}) {
	p, ok := h.principal(conn)
	if !ok {
		return
	}
	if !p.Role.CanNuke() {
		sendErr(h.tr, conn.ID, protocol.TypeChatError, protocol.CodeNoPermission, "cannot clear the chat")
		return
	}

	h.hist.Clear()
	broadcast(h.tr, h.clients.connIDs(), protocol.TypeChatCleared, protocol.ChatClearedMsg{By: p.Username, ByID: p.ID})
}

// modHandler returns the handler for one of the four moderation actions.
// The moderation registry owns the hierarchy rules; the gateway maps its
// errors onto wire codes and handles the ban force-disconnect.
func (h *GlobalHandler) modHandler(action string) ws.MessageHandler {
	return func(conn *ws.Connection, msg interface{}) {
		mm := msg.(protocol.ModActionMsg)

		p, ok := h.principal(conn)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()

		var err error
		switch action {
		case audit.ActionMute:
			err = h.mods.Mute(ctx, p, mm.TargetID)
		case audit.ActionUnmute:
			err = h.mods.Unmute(ctx, p, mm.TargetID)
		case audit.ActionBan:
			err = h.mods.Ban(ctx, p, mm.TargetID)
		case audit.ActionUnban:
			err = h.mods.Unban(ctx, p, mm.TargetID)
		}
		switch {
		case errors.Is(err, moderation.ErrNoPermission):
			sendErr(h.tr, conn.ID, protocol.TypeChatError, protocol.CodeNoPermission, "not allowed")
			return
		case errors.Is(err, moderation.ErrUnknownTarget):
			sendErr(h.tr, conn.ID, protocol.TypeChatError, protocol.CodeInvalid, "unknown target")
			return
		case err != nil:
			log.Printf("gateway: %s %d->%d: %v", action, p.ID, mm.TargetID, err)
			sendErr(h.tr, conn.ID, protocol.TypeChatError, protocol.CodeInvalid, "moderation failed")
			return
		}

		metrics.ModerationActions.WithLabelValues(action).Inc()
		broadcast(h.tr, h.clients.connIDs(), protocol.TypeChatModLog, protocol.ChatModLogMsg{
			Action:   action,
			Actor:    p.Username,
			TargetID: mm.TargetID,
		})

		if action == audit.ActionBan {
			// Ban notice first, then drop the target's live connections.
			if connID, online := h.clients.connFor(mm.TargetID); online {
				sendErr(h.tr, connID, protocol.TypeError, protocol.CodeBanned, "you have been banned")
				h.tr.Kick(connID)
			}
			if h.onBan != nil {
				h.onBan(mm.TargetID)
			}
		}
	}
}

func (h *GlobalHandler) handleDMSend(conn *ws.Connection, msg interface{}) {
	sm := msg.(protocol.DMSendMsg)

	p, ok := h.principal(conn)
	if !ok {
		return
	}
	if p.IsGuest() {
		sendErr(h.tr, conn.ID, protocol.TypeDMError, protocol.CodeNoPermission, "sign in to use direct messages")
		return
	}
	if sm.ToUserID <= 0 || sm.ToUserID == p.ID {
		sendErr(h.tr, conn.ID, protocol.TypeDMError, protocol.CodeInvalid, "invalid recipient")
		return
	}

	if err := chat.ValidateText(sm.Text); err != nil {
		if !errors.Is(err, chat.ErrEmpty) {
			sendErr(h.tr, conn.ID, protocol.TypeDMError, protocol.CodeInvalid, "message rejected")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	recipient, err := h.dir.GetUserByID(ctx, sm.ToUserID)
	if err != nil {
		log.Printf("gateway: dm recipient lookup %d: %v", sm.ToUserID, err)
		sendErr(h.tr, conn.ID, protocol.TypeDMError, protocol.CodeInvalid, "recipient lookup failed")
		return
	}
	if recipient == nil {
		sendErr(h.tr, conn.ID, protocol.TypeDMError, protocol.CodeInvalid, "unknown recipient")
		return
	}

	// Anyone may reply within an existing thread; starting a new one is a
	// privileged act.
	if !h.dms.Exists(p.ID, sm.ToUserID) && !p.Role.CanOriginateDM() {
		sendErr(h.tr, conn.ID, protocol.TypeDMError, protocol.CodeNoPermission, "cannot start new conversations")
		return
	}

	m := dm.Message{
		ID:              uuid.New().String(),
		FromID:          p.ID,
		ToID:            sm.ToUserID,
		FromUsername:    p.Username,
		FromDisplayName: p.DisplayName,
		FromRole:        p.Role,
		Text:            sm.Text,
		CreatedAt:       time.Now().UnixMilli(),
	}
	h.dms.Append(m)
	// Sending implies the sender has seen the thread; reset their unread.
	h.dms.MarkRead(p.ID, sm.ToUserID)
	metrics.MessagesTotal.WithLabelValues("dm").Inc()

	// Echo to the sender, push to the recipient if online.
	send(h.tr, conn.ID, protocol.TypeDMMessage, protocol.DMMessageMsg{Message: m})
	recipientConn, online := h.clients.connFor(sm.ToUserID)
	if online {
		send(h.tr, recipientConn, protocol.TypeDMMessage, protocol.DMMessageMsg{Message: m})
	}

	// Each side gets its own view of the updated conversation entry.
	if conv, found := h.dms.Conversation(p.ID, sm.ToUserID); found {
		h.fillConversation(&conv)
		send(h.tr, conn.ID, protocol.TypeDMConversationUpdate, protocol.DMConversationUpdateMsg{Conversation: conv})
	}
	if online {
		if conv, found := h.dms.Conversation(sm.ToUserID, p.ID); found {
			send(h.tr, recipientConn, protocol.TypeDMConversationUpdate, protocol.DMConversationUpdateMsg{Conversation: conv})
		}
	}
}

func (h *GlobalHandler) handleDMHistory(conn *ws.Connection, msg interface{}) {
	hm := msg.(protocol.DMHistoryMsg)

	p, ok := h.principal(conn)
	if !ok {
		return
	}
	if p.IsGuest() {
		sendErr(h.tr, conn.ID, protocol.TypeDMError, protocol.CodeNoPermission, "sign in to use direct messages")
		return
	}

	msgs := h.dms.History(p.ID, hm.WithUserID)
	send(h.tr, conn.ID, protocol.TypeDMHistoryResult, protocol.DMHistoryResultMsg{
		WithUserID: hm.WithUserID,
		Messages:   msgs,
	})

	// Fetching history marks the thread read; refresh the list entry.
	if conv, found := h.dms.Conversation(p.ID, hm.WithUserID); found {
		h.fillConversation(&conv)
		send(h.tr, conn.ID, protocol.TypeDMConversationUpdate, protocol.DMConversationUpdateMsg{Conversation: conv})
	}
}

func (h *GlobalHandler) handleDMRead(conn *ws.Connection, msg interface{}) {
	rm := msg.(protocol.DMReadMsg)

	p, ok := h.principal(conn)
	if !ok {
		return
	}
	if p.IsGuest() {
		sendErr(h.tr, conn.ID, protocol.TypeDMError, protocol.CodeNoPermission, "sign in to use direct messages")
		return
	}

	h.dms.MarkRead(p.ID, rm.WithUserID)
	if conv, found := h.dms.Conversation(p.ID, rm.WithUserID); found {
		h.fillConversation(&conv)
		send(h.tr, conn.ID, protocol.TypeDMConversationUpdate, protocol.DMConversationUpdateMsg{Conversation: conv})
	}
}

// fillConversation completes the other party's identity from the directory
// when they have never written in the thread.
func (h *GlobalHandler) fillConversation(c *dm.Conversation) {
	if c.WithUsername != "" || c.WithUserID <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	u, err := h.dir.GetUserByID(ctx, c.WithUserID)
	if err != nil || u == nil {
		return
	}
	c.WithUsername = u.Username
	c.WithDisplayName = u.DisplayName
	c.WithRole = u.Role
}
