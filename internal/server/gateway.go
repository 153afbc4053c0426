package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/roster"
)

// eventHandler processes one decoded inbound event for a session.
type eventHandler func(s *Session, data json.RawMessage)

// Gateway authenticates realtime connection attempts, binds each accepted
// connection to its verified principal, and hosts the event dispatch table.
type Gateway struct {
	verifier TokenVerifier
	router   *Router
	messages *chat.Store
	history  *chat.History
	roster   *roster.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
	handlers map[string]eventHandler
}

// NewGateway constructs the session gateway over the broadcast router.
func NewGateway(verifier TokenVerifier, router *Router, messages *chat.Store, history *chat.History, members *roster.Service, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	gateway := &Gateway{
		verifier: verifier,
		router:   router,
		messages: messages,
		history:  history,
		roster:   members,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	gateway.handlers = map[string]eventHandler{
		EventChatMessage: (*Session).handleChatMessage,
		EventChatJoin:    (*Session).handleChatJoin,
		EventChatLeave:   (*Session).handleChatLeave,
		EventDMSend:      (*Session).handleDMSend,
		EventDMStart:     (*Session).handleDMStart,
		EventHistoryRoom: (*Session).handleHistoryRoom,
		EventHistoryDM:   (*Session).handleHistoryDM,
		EventTypingStart: (*Session).handleTypingStart,
		EventTypingStop:  (*Session).handleTypingStop,
	}
	return gateway
}

// HandleConnection authenticates the upgrade request and services the
// resulting session until it disconnects. The token is verified before the
// upgrade: a refused connection leaves no presence entry and no room
// membership behind.
func (g *Gateway) HandleConnection(c *gin.Context) {
	token := connectionToken(c)
	principal, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Info("connection refused", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := g.roster.Record(principal); err != nil {
		g.logger.Warn("failed to record roster member", zap.String("user", principal.ID), zap.Error(err))
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := newSession(g, conn, principal)
	g.router.register(session, principal.DisplayName, principal.Email)
	session.logger.Info("session established", zap.String("email", principal.Email))
	session.run()
}

// connectionToken extracts the bearer token from the query string or the
// Authorization header.
func connectionToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func (s *Session) handleChatMessage(data json.RawMessage) {
	var request chatMessageRequest
	if err := json.Unmarshal(data, &request); err != nil {
		s.replyError(EventMessageError, "malformed message")
		return
	}

	message, err := s.gateway.messages.Append(s.ctx, s.sendRequest(request.Room, request.Text, request.Attachment), false, "", "")
	if err != nil {
		s.handleSendError(err)
		return
	}

	payload, err := encodeEvent(EventChatMessage, roomMessagePayload(message))
	if err != nil {
		s.logger.Error("failed to encode broadcast", zap.Error(err))
		return
	}
	s.gateway.router.broadcastRoom(message.Room, payload, nil)
}

func (s *Session) handleDMSend(data json.RawMessage) {
	var request dmSendRequest
	if err := json.Unmarshal(data, &request); err != nil {
		s.replyError(EventMessageError, "malformed message")
		return
	}
	if strings.TrimSpace(request.RecipientID) == "" {
		s.replyError(EventMessageError, "recipient required")
		return
	}

	roomID := chat.DeriveDMRoomID(s.principal.ID, request.RecipientID)
	message, err := s.gateway.messages.Append(
		s.ctx,
		s.sendRequest(roomID, request.Text, request.Attachment),
		true, s.principal.ID, request.RecipientID)
	if err != nil {
		s.handleSendError(err)
		return
	}

	payload, err := encodeEvent(EventDMReceive, directMessagePayload(message))
	if err != nil {
		s.logger.Error("failed to encode broadcast", zap.Error(err))
		return
	}
	// Targeted unicast to both principal identities, not a room broadcast:
	// the sender sees their own message without relying on subscription state.
	s.gateway.router.sendToPrincipal(request.RecipientID, payload)
	if request.RecipientID != s.principal.ID {
		s.gateway.router.sendToPrincipal(s.principal.ID, payload)
	}
}

func (s *Session) handleSendError(err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMissingRoom),
		errors.Is(err, chat.ErrMissingRecipient),
		errors.Is(err, chat.ErrMissingSender):
		s.replyError(EventMessageError, err.Error())
	default:
		s.logger.Error("failed to persist message", zap.Error(err))
		s.replyError(EventMessageError, "failed to send message")
	}
}

func (s *Session) handleHistoryRoom(data json.RawMessage) {
	var request historyRoomRequest
	if err := json.Unmarshal(data, &request); err != nil {
		s.replyError(EventHistoryError, "malformed request")
		return
	}

	messages, err := s.gateway.history.RoomPage(s.ctx, request.Room, request.Limit, request.Skip)
	if err != nil {
		s.logger.Error("failed to fetch room history", zap.String("room", request.Room), zap.Error(err))
		s.replyError(EventHistoryError, "failed to fetch history")
		return
	}
	s.reply(EventHistoryRoom, roomHistoryPayload(request.Room, messages))
}

func (s *Session) handleHistoryDM(data json.RawMessage) {
	var request historyDMRequest
	if err := json.Unmarshal(data, &request); err != nil {
		s.replyError(EventHistoryError, "malformed request")
		return
	}

	messages, err := s.gateway.history.DirectPage(s.ctx, s.principal.ID, request.RecipientID, request.Limit, request.Skip)
	if err != nil {
		s.logger.Error("failed to fetch dm history", zap.Error(err))
		s.replyError(EventHistoryError, "failed to fetch history")
		return
	}
	s.reply(EventHistoryDM, directHistoryPayload(request.RecipientID, messages))
}

func (s *Session) handleChatJoin(data json.RawMessage) {
	room, ok := decodeRoom(data)
	if !ok {
		s.replyError(EventMessageError, "room required")
		return
	}
	s.gateway.router.join(room, s)
	s.logger.Debug("joined room", zap.String("room", room))
}

func (s *Session) handleChatLeave(data json.RawMessage) {
	room, ok := decodeRoom(data)
	if !ok {
		s.replyError(EventMessageError, "room required")
		return
	}
	s.gateway.router.leave(room, s)
	s.logger.Debug("left room", zap.String("room", room))
}

func (s *Session) handleDMStart(data json.RawMessage) {
	var request dmStartRequest
	if err := json.Unmarshal(data, &request); err != nil || strings.TrimSpace(request.RecipientID) == "" {
		s.replyError(EventMessageError, "recipient required")
		return
	}

	roomID := chat.DeriveDMRoomID(s.principal.ID, request.RecipientID)
	s.gateway.router.join(roomID, s)

	payload, err := encodeEvent(EventDMInvitation, dmInvitationPayload{
		RoomID: roomID,
		From: userPayload{
			ID:    s.principal.ID,
			Name:  s.principal.DisplayName,
			Email: s.principal.Email,
		},
	})
	if err != nil {
		s.logger.Error("failed to encode invitation", zap.Error(err))
		return
	}
	s.gateway.router.sendToPrincipal(request.RecipientID, payload)
}

func (s *Session) handleTypingStart(data json.RawMessage) {
	room, ok := decodeRoom(data)
	if !ok {
		return
	}
	payload, err := encodeEvent(EventTypingStart, typingPayload{
		User:   s.principal.DisplayName,
		UserID: s.principal.ID,
	})
	if err != nil {
		return
	}
	s.gateway.router.broadcastTarget(room, payload, s)
}

func (s *Session) handleTypingStop(data json.RawMessage) {
	room, ok := decodeRoom(data)
	if !ok {
		return
	}
	payload, err := encodeEvent(EventTypingStop, typingPayload{UserID: s.principal.ID})
	if err != nil {
		return
	}
	s.gateway.router.broadcastTarget(room, payload, s)
}

// decodeRoom accepts both the object form {"room":"general"} and a bare
// string, which some clients send for join and leave.
func decodeRoom(data json.RawMessage) (string, bool) {
	var request roomRequest
	if err := json.Unmarshal(data, &request); err == nil && strings.TrimSpace(request.Room) != "" {
		return request.Room, true
	}
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil && strings.TrimSpace(bare) != "" {
		return bare, true
	}
	return "", false
}
