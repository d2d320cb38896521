package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-shop-relay/internal/domain"
	"github.com/tbourn/go-shop-relay/internal/repo"
)

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:jobs_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	if _, err := NewScheduler(newDB(t), "not a cron spec", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for invalid spec")
	}
}

func TestPurgeIdempotency_RemovesExpiredOnly(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	if _, err := repo.CreateIdempotency(ctx, db, "u1", "/notifications", "old", "n1", 201, time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.CreateIdempotency(ctx, db, "u1", "/notifications", "fresh", "n2", 201, 48*time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s, err := NewScheduler(db, "@hourly", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	before := testutil.ToFloat64(purgedKeys)
	n, err := s.PurgeIdempotency(ctx)
	if err != nil || n != 1 {
		t.Fatalf("purged %d, %v; want 1", n, err)
	}
	if got := testutil.ToFloat64(purgedKeys) - before; got != 1 {
		t.Fatalf("counter delta = %v", got)
	}

	var left []domain.Idempotency
	db.Find(&left)
	if len(left) != 1 || left[0].Key != "fresh" {
		t.Fatalf("unexpected remaining records: %+v", left)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(newDB(t), "@every 1h", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
