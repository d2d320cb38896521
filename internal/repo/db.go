// Package repo is the relay's durable store: free functions over a *gorm.DB
// for users, notifications, chat messages, hidden users, push tokens and
// idempotency records. SQLite (pure Go) and PostgreSQL are supported.
package repo

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-shop-relay/internal/config"
	"github.com/tbourn/go-shop-relay/internal/domain"
)

type poolLimits struct {
	maxOpen, maxIdle  int
	idleTime, maxLife time.Duration
}

var (
	sqlitePool   = poolLimits{maxOpen: 10, maxIdle: 10, idleTime: 5 * time.Minute, maxLife: 30 * time.Minute}
	postgresPool = poolLimits{maxOpen: 25, maxIdle: 10, idleTime: 5 * time.Minute, maxLife: 30 * time.Minute}

	// Applied by the driver on every new connection. WAL lets the history
	// readers run while the gateway writes.
	sqlitePragmas = []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
	}
)

// Postgres connection attempts made before giving up; a fresh database
// container usually needs a few seconds.
var (
	pgAttempts = 5
	pgBackoff  = 2 * time.Second
)

func (p poolLimits) apply(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetMaxIdleConns(p.maxIdle)
	sqlDB.SetConnMaxIdleTime(p.idleTime)
	sqlDB.SetConnMaxLifetime(p.maxLife)
	return nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}
}

// Open connects to the configured store, adds tracing when OpenTelemetry is
// on and migrates the schema.
func Open(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DBDriver {
	case "postgres":
		db, err = OpenPostgres(ctx, cfg.DBDSN)
	case "sqlite", "":
		db, err = OpenSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("gorm tracing: %w", err)
		}
	}
	if err := AutoMigrate(db.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenSQLite opens or creates the database file at path. The parent
// directory must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := sqlitePool.apply(db); err != nil {
		return nil, err
	}
	return db, nil
}

func sqliteDSN(path string) string {
	q := url.Values{"_pragma": sqlitePragmas}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// OpenPostgres connects to dsn, retrying with a fixed backoff until ctx is
// done or the attempts run out.
func OpenPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= pgAttempts; attempt++ {
		db, err := gorm.Open(postgres.Open(dsn), gormConfig())
		if err == nil {
			if err := postgresPool.apply(db); err != nil {
				return nil, err
			}
			return db, nil
		}
		lastErr = err
		if attempt == pgAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect postgres: %w", ctx.Err())
		case <-time.After(pgBackoff):
		}
	}
	return nil, fmt.Errorf("connect postgres after %d attempts: %w", pgAttempts, lastErr)
}

// AutoMigrate creates or updates every table the relay owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Notification{},
		&domain.Message{},
		&domain.HiddenUser{},
		&domain.FcmToken{},
		&domain.Idempotency{},
	)
}
