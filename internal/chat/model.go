package chat

import (
	"errors"
	"sort"
	"strings"
)

// dmSeparator joins the sorted participant pair into the canonical DM room
// identifier. Changing it invalidates every persisted DM room key.
const dmSeparator = "-dm-"

var (
	// ErrEmptyMessage indicates a send carried neither text nor an attachment.
	ErrEmptyMessage = errors.New("chat: message requires text or attachment")
	// ErrMissingRoom indicates a room operation without a room identifier.
	ErrMissingRoom = errors.New("chat: room identifier required")
	// ErrMissingRecipient indicates a direct send without a recipient id.
	ErrMissingRecipient = errors.New("chat: recipient id required")
	// ErrMissingSender indicates a send without an authenticated sender.
	ErrMissingSender = errors.New("chat: sender id required")
)

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	BlobID       string `json:"fileId"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimetype"`
	SizeBytes    int64  `json:"size"`
	Category     string `json:"category"`
	URL          string `json:"url"`
}

// Message is the persisted chat message. Sender fields are captured at send
// time rather than joined against the identity system.
type Message struct {
	ID             string `gorm:"column:message_id;primaryKey;size:190;not null"`
	Text           string `gorm:"column:text;type:text"`
	SenderID       string `gorm:"column:sender_id;size:190;not null"`
	SenderName     string `gorm:"column:sender_name;size:320;not null"`
	SenderEmail    string `gorm:"column:sender_email;size:320;not null"`
	Room           string `gorm:"column:room;size:190;not null;index:idx_messages_room_created,priority:1"`
	IsDirect       bool   `gorm:"column:is_direct;not null;default:false"`
	ParticipantA   string `gorm:"column:participant_a;size:190;not null;default:'';index:idx_messages_pair_created,priority:1"`
	ParticipantB   string `gorm:"column:participant_b;size:190;not null;default:'';index:idx_messages_pair_created,priority:2"`
	HasAttachment  bool   `gorm:"column:has_attachment;not null;default:false"`
	BlobID         string `gorm:"column:blob_id;size:190;not null;default:''"`
	AttachmentName string `gorm:"column:attachment_name;size:320;not null;default:''"`
	OriginalName   string `gorm:"column:original_name;size:320;not null;default:''"`
	MimeType       string `gorm:"column:mime_type;size:190;not null;default:''"`
	SizeBytes      int64  `gorm:"column:size_bytes;not null;default:0"`
	Category       string `gorm:"column:category;size:32;not null;default:''"`
	AttachmentURL  string `gorm:"column:attachment_url;size:512;not null;default:''"`
	CreatedAtNanos int64  `gorm:"column:created_at_ns;not null;index:idx_messages_room_created,priority:2;index:idx_messages_pair_created,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// Attachment reconstructs the attachment view, or nil when the message has none.
func (m Message) Attachment() *Attachment {
	if !m.HasAttachment {
		return nil
	}
	return &Attachment{
		BlobID:       m.BlobID,
		Filename:     m.AttachmentName,
		OriginalName: m.OriginalName,
		MimeType:     m.MimeType,
		SizeBytes:    m.SizeBytes,
		Category:     m.Category,
		URL:          m.AttachmentURL,
	}
}

// SendRequest describes a validated send attempt before persistence.
type SendRequest struct {
	SenderID    string
	SenderName  string
	SenderEmail string
	Room        string
	Text        string
	Attachment  *Attachment
}

// Validate enforces the send invariant: a non-empty trimmed text, an
// attachment, or both must be present, along with sender and room identity.
func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.SenderID) == "" {
		return ErrMissingSender
	}
	if strings.TrimSpace(r.Room) == "" {
		return ErrMissingRoom
	}
	if strings.TrimSpace(r.Text) == "" && r.Attachment == nil {
		return ErrEmptyMessage
	}
	return nil
}

// DeriveDMRoomID produces the canonical direct-message room identifier for a
// participant pair. The result is order-independent: both (a,b) and (b,a)
// yield the identical key, which is what lets two independent sends and a
// later history query agree on room identity without a lookup table.
func DeriveDMRoomID(idA, idB string) string {
	first, second := SortParticipants(idA, idB)
	return first + dmSeparator + second
}

// SortParticipants returns the pair in lexicographic order.
func SortParticipants(idA, idB string) (string, string) {
	pair := []string{idA, idB}
	sort.Strings(pair)
	return pair[0], pair[1]
}
