package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shop-relay/internal/domain"
	"github.com/tbourn/go-shop-relay/internal/http/middleware"
	"github.com/tbourn/go-shop-relay/internal/services"
	"github.com/tbourn/go-shop-relay/internal/utils"
)

// NotificationService is what the REST surface needs from the delivery
// router and the notification history. It is called concurrently.
type NotificationService interface {
	// Notify persists and pushes a notification to the user resolved from key.
	Notify(ctx context.Context, key string, in services.NotifyInput) services.Result
	// NotifyAsync runs Notify in the background.
	NotifyAsync(key string, in services.NotifyInput)
	// Record persists n without resolving a user or pushing.
	Record(ctx context.Context, n *domain.Notification) error
	// Broadcast multicasts to every stored device token.
	Broadcast(ctx context.Context, in services.NotifyInput) (services.BroadcastResult, error)
	// ListForUser returns the newest notifications of one user.
	ListForUser(ctx context.Context, userID string) ([]domain.Notification, error)
	// ListPage returns a page of notifications and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, error)
	// Stats returns (count, max updated_at) used for ETags.
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
	MarkRead(ctx context.Context, id string) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	SaveToken(ctx context.Context, userID, token string) error
	SaveTokenForUser(ctx context.Context, userID, token string) error
}

// AdminFeed pushes a live event to the admin connection, if one is open.
type AdminFeed interface {
	EmitToAdmin(event string, payload any) bool
}

// Handlers groups the notification endpoints.
type Handlers struct {
	notifSvc NotificationService
	feed     AdminFeed
	idemTTL  time.Duration
}

// New constructs Handlers. feed may be nil when no realtime gateway runs;
// a non-positive idemTTL defaults to 24h.
func New(notifSvc NotificationService, feed AdminFeed, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{notifSvc: notifSvc, feed: feed, idemTTL: idemTTL}
}

// userID is the verified caller, else X-User-ID, else "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get(middleware.CtxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// Pagination is the page metadata returned with list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page (>= 1) and page_size (1..100, default 20).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// idempotencyKey returns the key validated by the idempotency middleware,
// falling back to the raw header when that middleware is not mounted.
func idempotencyKey(c *gin.Context) string {
	if k, ok := middleware.GetIdempotencyKey(c); ok {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}

func nowUTC() time.Time { return time.Now().UTC() }
