package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxEventSize   = 64 << 10
	sendBufferSize = 64
)

// Session is one authenticated realtime connection. The read pump dispatches
// inbound events sequentially, so events from a single connection are
// processed in arrival order; the write pump drains the buffered send
// channel and keeps the connection alive with pings.
type Session struct {
	id        int64
	conn      *websocket.Conn
	principal auth.Principal
	gateway   *Gateway
	send      chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	logger    *zap.Logger
}

func newSession(gateway *Gateway, conn *websocket.Conn, principal auth.Principal) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := gateway.router.nextConnID()
	return &Session{
		id:        id,
		conn:      conn,
		principal: principal,
		gateway:   gateway,
		send:      make(chan []byte, sendBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		logger: gateway.logger.With(
			zap.Int64("conn_id", id),
			zap.String("principal_id", principal.ID)),
	}
}

func (s *Session) connID() int64 {
	return s.id
}

func (s *Session) principalID() string {
	return s.principal.ID
}

// trySend queues the payload without blocking. A false return means the
// buffer is full and the payload was dropped.
func (s *Session) trySend(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// run services the connection until it closes, then tears down presence and
// room subscriptions. It blocks until the read pump exits.
func (s *Session) run() {
	go s.writePump()
	s.readPump()
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.gateway.router.unregister(s)
		if err := s.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("connection close", zap.Error(err))
		}
		s.logger.Info("session closed")
	})
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(maxEventSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Warn("failed to set read deadline", zap.Error(err))
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				s.logger.Warn("unexpected connection error", zap.Error(err))
			}
			return
		}
		s.dispatch(raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// dispatch routes one inbound envelope through the event table. Handler
// errors never terminate the session; they are converted to a reply event
// for this connection only.
func (s *Session) dispatch(raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logger.Debug("malformed event frame", zap.Error(err))
		s.replyError(EventMessageError, "malformed event")
		return
	}

	handler, ok := s.gateway.handlers[envelope.Event]
	if !ok {
		s.logger.Debug("unknown event", zap.String("event", envelope.Event))
		s.replyError(EventMessageError, "unknown event")
		return
	}
	handler(s, envelope.Data)
}

// reply queues an event for this connection only.
func (s *Session) reply(event string, data interface{}) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		s.logger.Error("failed to encode reply", zap.String("event", event), zap.Error(err))
		return
	}
	s.trySend(payload)
}

func (s *Session) replyError(event, message string) {
	s.reply(event, errorPayload{Error: message})
}

func (s *Session) sendRequest(room, text string, attachment *chat.Attachment) chat.SendRequest {
	return chat.SendRequest{
		SenderID:    s.principal.ID,
		SenderName:  s.principal.DisplayName,
		SenderEmail: s.principal.Email,
		Room:        room,
		Text:        text,
		Attachment:  attachment,
	}
}
