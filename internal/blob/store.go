package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// MaxBlobSize bounds the memory buffered for a single upload.
const MaxBlobSize = 10 << 20 // 10 MiB

var (
	// ErrBlobNotFound indicates the requested blob id is unknown.
	ErrBlobNotFound = errors.New("blob: not found")
	// ErrBlobTooLarge indicates the payload exceeds MaxBlobSize.
	ErrBlobTooLarge = errors.New("blob: payload exceeds size limit")
	// ErrMediaTypeNotAllowed indicates the media type is outside the allow-list.
	ErrMediaTypeNotAllowed = errors.New("blob: media type not allowed")
	// ErrEmptyBlob indicates an upload without payload bytes.
	ErrEmptyBlob = errors.New("blob: payload required")
)

// Blob is a stored attachment payload with its metadata.
type Blob struct {
	ID             string `gorm:"column:blob_id;primaryKey;size:190;not null"`
	Filename       string `gorm:"column:filename;size:320;not null"`
	OriginalName   string `gorm:"column:original_name;size:320;not null"`
	MimeType       string `gorm:"column:mime_type;size:190;not null"`
	SizeBytes      int64  `gorm:"column:size_bytes;not null"`
	Category       string `gorm:"column:category;size:32;not null"`
	Payload        []byte `gorm:"column:payload;not null"`
	CreatedAtNanos int64  `gorm:"column:created_at_ns;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Blob) TableName() string {
	return "blobs"
}

// IDProvider issues unique blob identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies required by the blob store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Store persists uploaded attachment payloads keyed by an opaque id.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
	ids   IDProvider
}

// NewStore constructs the blob store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("blob: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("blob: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, clock: clock, ids: cfg.IDProvider}, nil
}

// Put validates and stores the payload, returning the stored blob metadata.
// The stored filename is prefixed with the upload instant so repeated uploads
// of the same original name stay distinguishable.
func (s *Store) Put(ctx context.Context, payload []byte, mediaType, originalName string) (Blob, error) {
	if len(payload) == 0 {
		return Blob{}, ErrEmptyBlob
	}
	if len(payload) > MaxBlobSize {
		return Blob{}, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(payload))
	}
	category, allowed := CategoryFor(mediaType)
	if !allowed {
		return Blob{}, fmt.Errorf("%w: %s", ErrMediaTypeNotAllowed, mediaType)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Blob{}, err
	}
	now := s.clock().UTC()

	stored := Blob{
		ID:             id,
		Filename:       fmt.Sprintf("%d-%s", now.UnixMilli(), originalName),
		OriginalName:   originalName,
		MimeType:       mediaType,
		SizeBytes:      int64(len(payload)),
		Category:       category,
		Payload:        payload,
		CreatedAtNanos: now.UnixNano(),
	}
	if err := s.db.WithContext(ctx).Create(&stored).Error; err != nil {
		return Blob{}, err
	}
	return stored, nil
}

// Get retrieves a stored blob with its payload bytes.
func (s *Store) Get(ctx context.Context, id string) (Blob, error) {
	if strings.TrimSpace(id) == "" {
		return Blob{}, ErrBlobNotFound
	}
	var stored Blob
	err := s.db.WithContext(ctx).Where("blob_id = ?", id).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Blob{}, ErrBlobNotFound
	}
	if err != nil {
		return Blob{}, err
	}
	return stored, nil
}

// Exists reports whether a blob with the given id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&Blob{}).Where("blob_id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
