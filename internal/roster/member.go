package roster

import (
	"time"
)

// Member records a principal that has connected at least once. The roster is
// what lets clients address direct messages to users who are currently
// offline: presence only covers live connections.
type Member struct {
	PrincipalID string    `gorm:"column:principal_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Email       string    `gorm:"column:email;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing roster members.
func (Member) TableName() string {
	return "roster_members"
}
