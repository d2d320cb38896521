// Package jobs runs periodic maintenance on the relay's store.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-shop-relay/internal/repo"
)

const purgeTimeout = 30 * time.Second

var purgedKeys = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "relay_idempotency_purged_total",
	Help: "Expired idempotency records removed by the maintenance job.",
})

func init() {
	prometheus.MustRegister(purgedKeys)
}

// Scheduler owns the cron runner. Jobs never overlap with themselves.
type Scheduler struct {
	cron *cron.Cron
	db   *gorm.DB
	log  zerolog.Logger
	now  func() time.Time
}

// NewScheduler registers the idempotency purge under spec (standard 5-field
// cron syntax or descriptors such as "@hourly").
func NewScheduler(db *gorm.DB, spec string, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		db:  db,
		log: log.With().Str("component", "jobs").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.log}),
		cron.SkipIfStillRunning(cronLogger{s.log}),
	))
	if _, err := s.cron.AddFunc(spec, func() { _, _ = s.PurgeIdempotency(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule idempotency purge %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("maintenance job still running at shutdown")
	}
}

// PurgeIdempotency deletes expired idempotency records.
func (s *Scheduler) PurgeIdempotency(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, purgeTimeout)
	defer cancel()

	n, err := repo.PurgeExpiredIdempotency(ctx, s.db, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("purge expired idempotency keys")
		return 0, err
	}
	purgedKeys.Add(float64(n))
	if n > 0 {
		s.log.Info().Int64("purged", n).Msg("expired idempotency keys removed")
	}
	return n, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error().Err(err).Fields(kv).Msg(msg)
}
