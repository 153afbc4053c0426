package roster

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleyhq/parley/internal/auth"
)

// ErrInvalidMember indicates the principal did not carry a usable identifier.
var ErrInvalidMember = errors.New("roster: invalid member")

// ServiceConfig describes the dependencies required by the roster service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maintains the durable directory of principals seen by the gateway.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the roster service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("roster: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Record upserts the principal into the roster and refreshes its last-seen
// timestamp. Profile fields from the token overwrite stored values so renamed
// users converge on their latest display name.
func (s *Service) Record(principal auth.Principal) error {
	principalID := strings.TrimSpace(principal.ID)
	if principalID == "" {
		return ErrInvalidMember
	}

	member := Member{
		PrincipalID: principalID,
		DisplayName: strings.TrimSpace(principal.DisplayName),
		Email:       strings.TrimSpace(principal.Email),
		LastSeenAt:  s.now(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "principal_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "last_seen_at"}),
	}).Create(&member).Error
}

// List returns every known member, most recently seen first.
func (s *Service) List() ([]Member, error) {
	var members []Member
	err := s.db.
		Order("last_seen_at DESC, principal_id ASC").
		Find(&members).
		Error
	if err != nil {
		return nil, err
	}
	return members, nil
}
