package server

import (
	"encoding/json"
	"time"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/presence"
)

// Inbound event names accepted on an authenticated session.
const (
	EventChatMessage = "chat:msg"
	EventChatJoin    = "chat:join"
	EventChatLeave   = "chat:leave"
	EventDMSend      = "dm:send"
	EventDMStart     = "dm:start"
	EventHistoryRoom = "history:room"
	EventHistoryDM   = "history:dm"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
)

// Outbound event names.
const (
	EventDMReceive    = "dm:receive"
	EventDMInvitation = "dm:invitation"
	EventUsersOnline  = "users:online"
	EventHistoryError = "history:error"
	EventMessageError = "message:error"
)

// Envelope frames every event on the wire in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEvent(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type chatMessageRequest struct {
	Room       string           `json:"room"`
	Text       string           `json:"text"`
	Attachment *chat.Attachment `json:"attachment"`
}

type dmSendRequest struct {
	RecipientID string           `json:"recipientId"`
	Text        string           `json:"text"`
	Attachment  *chat.Attachment `json:"attachment"`
}

type roomRequest struct {
	Room string `json:"room"`
}

type dmStartRequest struct {
	RecipientID string `json:"recipientId"`
}

type historyRoomRequest struct {
	Room  string `json:"room"`
	Limit int    `json:"limit"`
	Skip  int    `json:"skip"`
}

type historyDMRequest struct {
	RecipientID string `json:"recipientId"`
	Limit       int    `json:"limit"`
	Skip        int    `json:"skip"`
}

type userPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// messagePayload is the normalized broadcast and history representation of a
// persisted message.
type messagePayload struct {
	ID            string           `json:"_id"`
	Sender        string           `json:"sender"`
	SenderID      string           `json:"senderId"`
	Text          string           `json:"text,omitempty"`
	Room          string           `json:"room,omitempty"`
	RoomID        string           `json:"roomId,omitempty"`
	IsDM          bool             `json:"isDM,omitempty"`
	Timestamp     int64            `json:"ts"`
	HasAttachment bool             `json:"hasAttachment,omitempty"`
	Attachment    *chat.Attachment `json:"attachment,omitempty"`
	From          *userPayload     `json:"from,omitempty"`
}

type historyRoomPayload struct {
	Room     string           `json:"room"`
	Messages []messagePayload `json:"messages"`
}

type historyDMPayload struct {
	RecipientID string           `json:"recipientId"`
	Messages    []messagePayload `json:"messages"`
}

type dmInvitationPayload struct {
	RoomID string      `json:"roomId"`
	From   userPayload `json:"from"`
}

type typingPayload struct {
	User   string `json:"user,omitempty"`
	UserID string `json:"userId"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func roomMessagePayload(message chat.Message) messagePayload {
	return messagePayload{
		ID:            message.ID,
		Sender:        message.SenderName,
		SenderID:      message.SenderID,
		Text:          message.Text,
		Room:          message.Room,
		Timestamp:     timestampMillis(message.CreatedAtNanos),
		HasAttachment: message.HasAttachment,
		Attachment:    message.Attachment(),
	}
}

func directMessagePayload(message chat.Message) messagePayload {
	return messagePayload{
		ID:            message.ID,
		Sender:        message.SenderName,
		SenderID:      message.SenderID,
		Text:          message.Text,
		RoomID:        message.Room,
		IsDM:          true,
		Timestamp:     timestampMillis(message.CreatedAtNanos),
		HasAttachment: message.HasAttachment,
		Attachment:    message.Attachment(),
		From: &userPayload{
			ID:    message.SenderID,
			Name:  message.SenderName,
			Email: message.SenderEmail,
		},
	}
}

func roomHistoryPayload(room string, messages []chat.Message) historyRoomPayload {
	page := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		page = append(page, roomMessagePayload(message))
	}
	return historyRoomPayload{Room: room, Messages: page}
}

func directHistoryPayload(recipientID string, messages []chat.Message) historyDMPayload {
	page := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		page = append(page, directMessagePayload(message))
	}
	return historyDMPayload{RecipientID: recipientID, Messages: page}
}

func presencePayload(entries []presence.Entry) []userPayload {
	users := make([]userPayload, 0, len(entries))
	for _, entry := range entries {
		users = append(users, userPayload{
			ID:    entry.PrincipalID,
			Name:  entry.DisplayName,
			Email: entry.Email,
		})
	}
	return users
}

func timestampMillis(nanos int64) int64 {
	return time.Unix(0, nanos).UnixMilli()
}
