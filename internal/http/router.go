// Package httpapi mounts the relay's REST surface, the websocket gateway and
// the operational endpoints on a Gin engine.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-shop-relay/docs"
	"github.com/tbourn/go-shop-relay/internal/config"
	"github.com/tbourn/go-shop-relay/internal/http/handlers"
	"github.com/tbourn/go-shop-relay/internal/http/middleware"
	"github.com/tbourn/go-shop-relay/internal/repo"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators RegisterRoutes mounts. Feed and Realtime may be
// nil, in which case no live emission happens and no websocket route exists.
type Deps struct {
	DB            *gorm.DB
	Notifications handlers.NotificationService
	Feed          handlers.AdminFeed
	Realtime      gin.HandlerFunc
}

// RegisterRoutes installs the middleware chain and every route.
//
// The order is significant: the request id and logger come before Recovery
// so panics are logged with their id, auth runs before idempotency so keys
// are scoped to the verified caller, and idempotency runs before the rate
// limiter so replays are not charged.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	wsPath := cfg.Realtime.Path

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-API-Key"}}),
		middleware.Recovery(),
		limitBody(maxBodyBytes),
		middleware.Metrics(wsPath),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{wsPath, "/metrics"})),
	)

	auth := middleware.NewJWTAuth(cfg.JWTSecret)
	r.Use(
		auth.Optional(),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idempotencyLookup(deps.DB)),
		middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler(),
	)
	r.Use(corsHandlers(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if deps.Realtime != nil {
		r.GET(wsPath, deps.Realtime)
	}

	h := handlers.New(deps.Notifications, deps.Feed, cfg.IdempotencyTTL)
	api := groupWithPrefix(r, cfg.APIBasePath)

	api.GET("/notifications", h.ListNotifications)
	api.POST("/notifications", h.CreateNotification)
	api.GET("/users/:userId/notifications", h.ListUserNotifications)

	api.PATCH("/notifications/:id/read", h.MarkRead)
	api.PATCH("/notifications/markAsRead", h.MarkAsRead)
	api.PUT("/notifications/mark-all-read", h.MarkAllRead)

	api.POST("/notifications/save-token", h.SaveToken)
	api.POST("/notifications/update-fcm", auth.Required(), h.UpdateFcm)

	api.POST("/notifications/notify", h.Notify)
	api.POST("/notifications/broadcast", h.Broadcast)
}

// idempotencyLookup adapts the store to the validator. A nil db disables
// replay detection.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// limitBody caps request bodies; reads past maxBytes fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix treats "" and "/" as the root group.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "/" {
		prefix = ""
	}
	return r.Group(prefix)
}
