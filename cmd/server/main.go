// Command server runs the shop relay: the websocket gateway for live chat and
// order updates plus the notification REST API.
//
// @title           Shop Relay API
// @version         1.0
// @description     Notification history, device registration and delivery endpoints of the shop relay. Live chat runs over the websocket gateway.
// @BasePath        /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shop-relay/internal/config"
	httpapi "github.com/tbourn/go-shop-relay/internal/http"
	"github.com/tbourn/go-shop-relay/internal/jobs"
	"github.com/tbourn/go-shop-relay/internal/observability"
	"github.com/tbourn/go-shop-relay/internal/presence"
	"github.com/tbourn/go-shop-relay/internal/push"
	"github.com/tbourn/go-shop-relay/internal/realtime"
	"github.com/tbourn/go-shop-relay/internal/repo"
	"github.com/tbourn/go-shop-relay/internal/services"
	"github.com/tbourn/go-shop-relay/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version string

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	ver := sysutil.Version(version)

	logger := sysutil.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, ver, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config, ver string, logger zerolog.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, ver)
	if err != nil {
		return err
	}

	db, err := repo.Open(ctx, cfg)
	if err != nil {
		return err
	}

	var sender push.Sender = push.Disabled{}
	if cfg.PushEnabled() {
		fcm, err := push.NewFCM(ctx, cfg.Push.CredentialsFile, cfg.Push.ProjectID, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("push delivery disabled")
		} else {
			sender = fcm
		}
	} else {
		logger.Info().Msg("no firebase credentials; push delivery disabled")
	}

	notifSvc := services.NewNotificationService(db, sender, logger)
	msgSvc := services.NewMessageService(db, cfg.HistoryLimit)

	dir := presence.New(cfg.AdminIdentity, repo.HiddenUsers{DB: db}, logger)
	gw := realtime.NewGateway(dir, notifSvc, msgSvc, logger)
	ws := realtime.NewServer(gw, cfg.Realtime, logger)

	sched, err := jobs.NewScheduler(db, cfg.MaintenanceCron, logger)
	if err != nil {
		return err
	}
	sched.Start()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:            db,
		Notifications: notifSvc,
		Feed:          gw,
		Realtime:      ws.Handler(),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("version", ver).
			Str("ws_path", cfg.Realtime.Path).
			Str("admin", cfg.AdminIdentity).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; they end
	// when the process exits.
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	sched.Stop(sctx)
	gw.Wait()
	notifSvc.Wait()
	if err := shutdownTracing(sctx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info().Msg("server stopped")
	return nil
}
