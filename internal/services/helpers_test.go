package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-shop-relay/internal/domain"
	"github.com/tbourn/go-shop-relay/internal/push"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Notification{}, &domain.Message{},
		&domain.HiddenUser{}, &domain.FcmToken{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type sentPush struct {
	Token string
	N     push.Notification
}

// stubSender records every push attempt.
type stubSender struct {
	mu      sync.Mutex
	sent    []sentPush
	multi   [][]string
	err     error
	failing []string // rejected as unregistered
	flaky   []string // rejected with a transient error
}

func (s *stubSender) SendToToken(_ context.Context, token string, n push.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentPush{Token: token, N: n})
	return s.err
}

func (s *stubSender) SendToTokens(_ context.Context, tokens []string, _ push.Notification) (push.MulticastResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.multi = append(s.multi, tokens)
	if s.err != nil {
		return push.MulticastResult{Failed: len(tokens)}, s.err
	}
	failed := len(s.failing) + len(s.flaky)
	return push.MulticastResult{
		Sent:   len(tokens) - failed,
		Failed: failed,
		Stale:  s.failing,
	}, nil
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func seedUser(t *testing.T, db *gorm.DB, u domain.User) {
	t.Helper()
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func countNotifications(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Notification{}).Count(&n).Error; err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	return n
}
