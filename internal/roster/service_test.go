package roster

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/auth"
)

func openTestService(t *testing.T, clock func() time.Time) *Service {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "roster.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&Member{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: database, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestRecordCreatesMember(t *testing.T) {
	recordedAt := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)
	service := openTestService(t, func() time.Time { return recordedAt })

	err := service.Record(auth.Principal{ID: "user-amy", DisplayName: "Amy", Email: "amy@example.com"})
	if err != nil {
		t.Fatalf("failed to record member: %v", err)
	}

	members, err := service.List()
	if err != nil {
		t.Fatalf("failed to list members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected single member, got %d", len(members))
	}
	if members[0].PrincipalID != "user-amy" || members[0].DisplayName != "Amy" || members[0].Email != "amy@example.com" {
		t.Fatalf("unexpected member: %#v", members[0])
	}
	if !members[0].LastSeenAt.Equal(recordedAt) {
		t.Fatalf("unexpected last seen time: %v", members[0].LastSeenAt)
	}
}

func TestRecordRefreshesExistingMember(t *testing.T) {
	current := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)
	service := openTestService(t, func() time.Time { return current })

	if err := service.Record(auth.Principal{ID: "user-amy", DisplayName: "Amy", Email: "amy@example.com"}); err != nil {
		t.Fatalf("failed to record member: %v", err)
	}

	current = current.Add(time.Hour)
	if err := service.Record(auth.Principal{ID: "user-amy", DisplayName: "Amelia", Email: "amy@example.com"}); err != nil {
		t.Fatalf("failed to re-record member: %v", err)
	}

	members, err := service.List()
	if err != nil {
		t.Fatalf("failed to list members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected single member after re-record, got %d", len(members))
	}
	if members[0].DisplayName != "Amelia" {
		t.Fatalf("expected refreshed display name, got %q", members[0].DisplayName)
	}
	if !members[0].LastSeenAt.Equal(current) {
		t.Fatalf("expected refreshed last seen time, got %v", members[0].LastSeenAt)
	}
}

func TestListOrdersByLastSeen(t *testing.T) {
	current := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)
	service := openTestService(t, func() time.Time { return current })

	if err := service.Record(auth.Principal{ID: "user-amy", DisplayName: "Amy"}); err != nil {
		t.Fatalf("failed to record first member: %v", err)
	}
	current = current.Add(time.Minute)
	if err := service.Record(auth.Principal{ID: "user-zoe", DisplayName: "Zoe"}); err != nil {
		t.Fatalf("failed to record second member: %v", err)
	}

	members, err := service.List()
	if err != nil {
		t.Fatalf("failed to list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected two members, got %d", len(members))
	}
	if members[0].PrincipalID != "user-zoe" || members[1].PrincipalID != "user-amy" {
		t.Fatalf("expected most recently seen first, got %q then %q", members[0].PrincipalID, members[1].PrincipalID)
	}
}

func TestRecordRejectsBlankPrincipal(t *testing.T) {
	service := openTestService(t, nil)

	err := service.Record(auth.Principal{ID: "   ", DisplayName: "Nobody"})
	if !errors.Is(err, ErrInvalidMember) {
		t.Fatalf("expected ErrInvalidMember, got %v", err)
	}

	members, err := service.List()
	if err != nil {
		t.Fatalf("failed to list members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty roster, got %d members", len(members))
	}
}
