// Notification HTTP handlers.
//
// This file exposes the REST surface over notification history and devices:
//   - GET   /notifications                  (paginated, optional user_id, ETag)
//   - GET   /users/{userId}/notifications   (newest first)
//   - POST  /notifications                  (create; emits to the admin feed)
//   - PATCH /notifications/{id}/read
//   - PATCH /notifications/markAsRead
//   - PUT   /notifications/mark-all-read
//   - POST  /notifications/save-token
//   - POST  /notifications/update-fcm
//   - POST  /notifications/notify           (persist + push to one user; ?async=true answers 202)
//   - POST  /notifications/broadcast        (push to every device)
//
// Idempotency:
// POST /notifications honors Idempotency-Key. A repeated key for the same
// (user, route) returns the originally created notification with
// `Idempotency-Replayed: true` and does not emit to the admin feed again.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-shop-relay/internal/domain"
	"github.com/tbourn/go-shop-relay/internal/http/middleware"
	"github.com/tbourn/go-shop-relay/internal/realtime"
	"github.com/tbourn/go-shop-relay/internal/repo"
	"github.com/tbourn/go-shop-relay/internal/services"
)

//
// DTOs
//

// CreateNotificationRequest is the JSON payload for POST /notifications.
type CreateNotificationRequest struct {
	UserID   string         `json:"userId"   binding:"required" example:"u-123"`
	Username string         `json:"username" example:"alice"`
	Title    string         `json:"title"    binding:"required,max=255" example:"New comment"`
	Message  string         `json:"message"  binding:"required" example:"Someone replied to your review"`
	Type     string         `json:"type"     example:"comment"`
	Data     map[string]any `json:"data"`
}

// NotifyRequest is the JSON payload for POST /notifications/notify. UserID
// may be a user ID, username or email.
type NotifyRequest struct {
	UserID  string         `json:"userId"  binding:"required" example:"alice@shop.test"`
	Title   string         `json:"title"   example:"Order update"`
	Message string         `json:"message" binding:"required" example:"Order #42 updated: Shipped"`
	Type    string         `json:"type"    example:"order"`
	Data    map[string]any `json:"data"`
}

// NotifyResponse mirrors the delivery router's contract: success is false
// whenever push delivery did not happen, even if the record was stored.
type NotifyResponse struct {
	Success      bool                 `json:"success"`
	Error        string               `json:"error,omitempty" example:"no token"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

// BroadcastRequest is the JSON payload for POST /notifications/broadcast.
type BroadcastRequest struct {
	Title   string         `json:"title"   example:"Flash sale"`
	Message string         `json:"message" binding:"required" example:"Everything 20% off today"`
	Type    string         `json:"type"    example:"promo"`
	Data    map[string]any `json:"data"`
}

// BroadcastResponse reports how many devices were targeted.
type BroadcastResponse struct {
	Tokens int   `json:"tokens"`
	Failed int   `json:"failed"`
	Pruned int64 `json:"pruned"`
}

// MarkAsReadRequest is the JSON payload for PATCH /notifications/markAsRead.
type MarkAsReadRequest struct {
	ID string `json:"id" binding:"required" example:"0b6f5b8e-4a38-4f6e-9d43-1f0b8f8a2c11"`
}

// MarkAllReadResponse reports how many notifications changed state.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// SaveTokenRequest is the JSON payload for POST /notifications/save-token.
type SaveTokenRequest struct {
	UserID   string `json:"userId"   binding:"required" example:"u-123"`
	FcmToken string `json:"fcmToken" binding:"required" example:"dGVzdC10b2tlbg"`
}

// UpdateFcmRequest is the JSON payload for POST /notifications/update-fcm.
type UpdateFcmRequest struct {
	FcmToken string `json:"fcmToken" binding:"required" example:"dGVzdC10b2tlbg"`
}

// ListNotificationsResponse contains a page of notifications.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Pagination    Pagination            `json:"pagination"`
}

// StatusResponse is a minimal acknowledgement body.
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

//
// Handlers
//

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List notifications
// @Description Returns a paginated list of notifications, newest first. Supports weak ETags.
// @Tags        Notifications
// @Produce     json
//
// @Param       user_id    query  string  false "Only notifications of this user"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListNotificationsResponse
// @Success     304  "Not modified"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := strings.TrimSpace(c.Query("user_id"))

	// ETag pre-check (best effort).
	if count, maxTS, err := h.notifSvc.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"notifications:%s:%d:%d"`, uid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.notifSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeListFailed, msgListFailed, err)
		return
	}
	ok(c, http.StatusOK, ListNotificationsResponse{
		Notifications: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// ListUserNotifications godoc
// @ID          listUserNotifications
// @Summary     List a user's notifications
// @Description Returns the newest notifications of one user.
// @Tags        Notifications
// @Produce     json
// @Param       userId  path  string  true  "User ID"
// @Success     200  {array}   domain.Notification
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /users/{userId}/notifications [get]
func (h *Handlers) ListUserNotifications(c *gin.Context) {
	items, err := h.notifSvc.ListForUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeListFailed, msgListFailed, err)
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	ok(c, http.StatusOK, items)
}

// CreateNotification godoc
// @ID          createNotification
// @Summary     Create a notification
// @Description Stores a notification and forwards it to the admin's live feed.
// @Description Supports idempotency via the Idempotency-Key header.
// @Tags        Notifications
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "Caller identity (demo header)"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.CreateNotificationRequest  true  "Notification payload"
//
// @Success     201  {object}  domain.Notification
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /notifications [post]
func (h *Handlers) CreateNotification(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId, title and message are required")
		return
	}

	caller := userID(c)
	scope := middleware.IdempotencyScope(c)
	idemKey := idempotencyKey(c)
	db := h.storeDB()

	// Idempotency (replay path).
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, caller, scope, idemKey, nowUTC()); err == nil && rec != nil {
			if prev, err2 := repo.GetNotification(ctx, db, rec.ResourceID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, rec.Status, prev)
				return
			}
		}
	}

	n := &domain.Notification{
		UserID:   strings.TrimSpace(req.UserID),
		Username: req.Username,
		Title:    req.Title,
		Message:  req.Message,
		Type:     req.Type,
		Data:     req.Data,
	}
	if err := h.notifSvc.Record(ctx, n); err != nil {
		switch {
		case errors.Is(err, services.ErrMissingRecipient), errors.Is(err, services.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			failErr(c, http.StatusInternalServerError, ErrCodeCreateFailed, msgCreateFailed, err)
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && db != nil {
		_, _ = repo.CreateIdempotency(ctx, db, caller, scope, idemKey, n.ID, http.StatusCreated, h.idemTTL)
	}

	if h.feed != nil {
		h.feed.EmitToAdmin(realtime.EventNewNotification, n)
	}
	ok(c, http.StatusCreated, n)
}

// MarkRead godoc
// @ID          markNotificationRead
// @Summary     Mark one notification as read
// @Tags        Notifications
// @Produce     json
// @Param       id  path  string  true  "Notification ID"
// @Success     200  {object}  domain.Notification
// @Failure     404  {object}  handlers.ErrorResponse "Not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /notifications/{id}/read [patch]
func (h *Handlers) MarkRead(c *gin.Context) {
	h.markRead(c, c.Param("id"))
}

// MarkAsRead godoc
// @ID          markAsRead
// @Summary     Mark one notification as read (id in body)
// @Tags        Notifications
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.MarkAsReadRequest  true  "Notification reference"
// @Success     200  {object}  domain.Notification
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Not found"
// @Router      /notifications/markAsRead [patch]
func (h *Handlers) MarkAsRead(c *gin.Context) {
	var req MarkAsReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id is required")
		return
	}
	h.markRead(c, req.ID)
}

func (h *Handlers) markRead(c *gin.Context, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id is required")
		return
	}
	n, err := h.notifSvc.MarkRead(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotificationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
			return
		}
		failErr(c, http.StatusInternalServerError, ErrCodeUpdateFailed, msgUpdateFailed, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// MarkAllRead godoc
// @ID          markAllRead
// @Summary     Mark all notifications of a user as read
// @Description The user defaults to the caller identity when user_id is omitted.
// @Tags        Notifications
// @Produce     json
// @Param       user_id  query  string  false "User ID"
// @Success     200  {object}  handlers.MarkAllReadResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /notifications/mark-all-read [put]
func (h *Handlers) MarkAllRead(c *gin.Context) {
	uid := strings.TrimSpace(c.Query("user_id"))
	if uid == "" {
		uid = userID(c)
	}
	n, err := h.notifSvc.MarkAllRead(c.Request.Context(), uid)
	if err != nil {
		failErr(c, http.StatusInternalServerError, ErrCodeUpdateFailed, msgUpdateFailed, err)
		return
	}
	ok(c, http.StatusOK, MarkAllReadResponse{Updated: n})
}

// SaveToken godoc
// @ID          saveToken
// @Summary     Register a push device token for a user
// @Tags        Devices
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SaveTokenRequest  true  "Device token"
// @Success     200  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "User not found"
// @Router      /notifications/save-token [post]
func (h *Handlers) SaveToken(c *gin.Context) {
	var req SaveTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId and fcmToken are required")
		return
	}
	if err := h.notifSvc.SaveTokenForUser(c.Request.Context(), req.UserID, req.FcmToken); err != nil {
		h.tokenError(c, err)
		return
	}
	ok(c, http.StatusOK, StatusResponse{Status: "ok"})
}

// UpdateFcm godoc
// @ID          updateFcm
// @Summary     Replace the caller's push device token
// @Tags        Devices
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.UpdateFcmRequest  true  "Device token"
// @Success     200  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /notifications/update-fcm [post]
func (h *Handlers) UpdateFcm(c *gin.Context) {
	var req UpdateFcmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "fcmToken is required")
		return
	}
	if err := h.notifSvc.SaveToken(c.Request.Context(), userID(c), req.FcmToken); err != nil {
		h.tokenError(c, err)
		return
	}
	ok(c, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handlers) tokenError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case errors.Is(err, services.ErrMissingRecipient), errors.Is(err, services.ErrMissingToken):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeUpdateFailed, msgUpdateFailed, err)
	}
}

// Notify godoc
// @ID          notify
// @Summary     Persist and push a notification to one user
// @Description The recipient may be referenced by ID, username or email. The
// @Description notification is stored before push delivery is attempted.
// @Description With async=true the delivery runs in the background.
// @Tags        Notifications
// @Accept      json
// @Produce     json
// @Param       async  query  bool  false  "Deliver in the background"
// @Param       body  body  handlers.NotifyRequest  true  "Notification"
// @Success     200  {object}  handlers.NotifyResponse
// @Success     202  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Router      /notifications/notify [post]
func (h *Handlers) Notify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId and message are required")
		return
	}
	in := services.NotifyInput{
		Title:   req.Title,
		Message: req.Message,
		Type:    req.Type,
		Data:    req.Data,
	}
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		h.notifSvc.NotifyAsync(req.UserID, in)
		ok(c, http.StatusAccepted, StatusResponse{Status: "accepted"})
		return
	}
	res := h.notifSvc.Notify(c.Request.Context(), req.UserID, in)
	if res.Notification == nil && res.Err != nil &&
		(errors.Is(res.Err, services.ErrMissingRecipient) || errors.Is(res.Err, services.ErrEmptyMessage)) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, res.Err.Error())
		return
	}

	out := NotifyResponse{Success: res.Err == nil && res.Delivered, Notification: res.Notification}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	ok(c, http.StatusOK, out)
}

// Broadcast godoc
// @ID          broadcast
// @Summary     Push a notification to every registered device
// @Tags        Notifications
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.BroadcastRequest  true  "Notification"
// @Success     200  {object}  handlers.BroadcastResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     502  {object}  handlers.ErrorResponse "Push provider error"
// @Router      /notifications/broadcast [post]
func (h *Handlers) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message is required")
		return
	}
	res, err := h.notifSvc.Broadcast(c.Request.Context(), services.NotifyInput{
		Title:   req.Title,
		Message: req.Message,
		Type:    req.Type,
		Data:    req.Data,
	})
	if err != nil {
		if errors.Is(err, services.ErrEmptyMessage) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		failErr(c, http.StatusBadGateway, ErrCodePushFailed, msgPushFailed, err)
		return
	}
	ok(c, http.StatusOK, BroadcastResponse{Tokens: res.Tokens, Failed: res.Failed, Pruned: res.Pruned})
}

// storeDB returns the concrete service's database handle for idempotency
// bookkeeping, or nil for other implementations.
func (h *Handlers) storeDB() *gorm.DB {
	if svc, ok := h.notifSvc.(*services.NotificationService); ok {
		return svc.DB
	}
	return nil
}
