package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

const orderCreatedDesc = "created_at_ns DESC, message_id DESC"

// IDProvider issues unique message identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies required by the message store.
// DefaultQueryLimit caps pages that omit an explicit limit; zero selects the
// built-in default.
type StoreConfig struct {
	Database          *gorm.DB
	Clock             func() time.Time
	IDProvider        IDProvider
	DefaultQueryLimit int
}

// Store persists chat messages and serves paginated reverse-chronological
// retrieval by room or participant pair.
type Store struct {
	db           *gorm.DB
	clock        func() time.Time
	ids          IDProvider
	defaultLimit int

	mu        sync.Mutex
	lastStamp int64
}

// NewStore constructs the message store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("chat: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("chat: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	defaultLimit := cfg.DefaultQueryLimit
	if defaultLimit <= 0 {
		defaultLimit = defaultQueryLimit
	}
	return &Store{
		db:           cfg.Database,
		clock:        clock,
		ids:          cfg.IDProvider,
		defaultLimit: defaultLimit,
	}, nil
}

// Append validates the request, assigns an id and a monotonically
// non-decreasing timestamp, and persists the message.
func (s *Store) Append(ctx context.Context, request SendRequest, isDirect bool, participantA, participantB string) (Message, error) {
	if err := request.Validate(); err != nil {
		return Message{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Message{}, err
	}

	message := Message{
		ID:             id,
		Text:           strings.TrimSpace(request.Text),
		SenderID:       request.SenderID,
		SenderName:     request.SenderName,
		SenderEmail:    request.SenderEmail,
		Room:           request.Room,
		IsDirect:       isDirect,
		CreatedAtNanos: s.nextTimestamp(),
	}
	if isDirect {
		message.ParticipantA, message.ParticipantB = SortParticipants(participantA, participantB)
	}
	if request.Attachment != nil {
		message.HasAttachment = true
		message.BlobID = request.Attachment.BlobID
		message.AttachmentName = request.Attachment.Filename
		message.OriginalName = request.Attachment.OriginalName
		message.MimeType = request.Attachment.MimeType
		message.SizeBytes = request.Attachment.SizeBytes
		message.Category = request.Attachment.Category
		message.AttachmentURL = request.Attachment.URL
	}

	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return Message{}, err
	}
	return message, nil
}

// QueryRoom returns up to limit room messages newest-first, skipping the
// given number of most recent entries.
func (s *Store) QueryRoom(ctx context.Context, room string, limit, skip int) ([]Message, error) {
	if strings.TrimSpace(room) == "" {
		return nil, ErrMissingRoom
	}
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("room = ? AND is_direct = ?", room, false).
		Order(orderCreatedDesc).
		Limit(s.normalizeLimit(limit)).
		Offset(normalizeSkip(skip)).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// QueryParticipantPair returns up to limit direct messages between the pair
// newest-first, skipping the given number of most recent entries. The pair is
// canonicalized internally, so argument order does not matter.
func (s *Store) QueryParticipantPair(ctx context.Context, idA, idB string, limit, skip int) ([]Message, error) {
	if strings.TrimSpace(idA) == "" || strings.TrimSpace(idB) == "" {
		return nil, ErrMissingRecipient
	}
	first, second := SortParticipants(idA, idB)
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("is_direct = ? AND participant_a = ? AND participant_b = ?", true, first, second).
		Order(orderCreatedDesc).
		Limit(s.normalizeLimit(limit)).
		Offset(normalizeSkip(skip)).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// nextTimestamp guards the sort key against wall-clock regression so that
// createdAt is monotonically non-decreasing per store.
func (s *Store) nextTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp := s.clock().UTC().UnixNano()
	if stamp < s.lastStamp {
		stamp = s.lastStamp
	}
	s.lastStamp = stamp
	return stamp
}

const defaultQueryLimit = 50

func (s *Store) normalizeLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	return limit
}

func normalizeSkip(skip int) int {
	if skip < 0 {
		return 0
	}
	return skip
}
