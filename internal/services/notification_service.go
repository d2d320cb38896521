// Package services – NotificationService
//
// This file implements NotificationService, the delivery router used by every
// realtime event handler and by collaborators such as order and comment flows.
// Notify resolves the recipient, persists the notification unconditionally and
// only then attempts push delivery. Push problems are reported in the Result
// and logged; they never fail the persisted record.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-shop-relay/internal/domain"
	"github.com/tbourn/go-shop-relay/internal/push"
	"github.com/tbourn/go-shop-relay/internal/repo"
	"github.com/tbourn/go-shop-relay/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultUserNotifications = 50
	asyncNotifyTimeout       = 30 * time.Second
)

// NotifyInput describes a notification directed at one user.
type NotifyInput struct {
	Title   string
	Message string
	Type    string
	Data    map[string]any
}

// Result is the outcome of a delivery attempt. Notification is set whenever
// the durable record was written, even if Err reports a push failure.
type Result struct {
	Delivered    bool
	Notification *domain.Notification
	Err          error
}

// BroadcastResult summarizes a multicast to every stored device.
type BroadcastResult struct {
	Tokens int
	Failed int
	Pruned int64
}

// NotificationService routes notifications to the durable store and the push
// provider.
type NotificationService struct {
	DB     *gorm.DB
	Sender push.Sender
	Log    zerolog.Logger

	// UserLimit caps ListForUser (newest first).
	UserLimit int

	async sync.WaitGroup
}

// NewNotificationService wires a NotificationService with default limits.
func NewNotificationService(db *gorm.DB, sender push.Sender, log zerolog.Logger) *NotificationService {
	if sender == nil {
		sender = push.Disabled{}
	}
	return &NotificationService{
		DB:        db,
		Sender:    sender,
		Log:       log.With().Str("component", "notifications").Logger(),
		UserLimit: defaultUserNotifications,
	}
}

func tracer() trace.Tracer { return otel.Tracer("services/NotificationService") }

// Notify delivers in to the user resolved from key (an ID, username or email).
//
// Order of effects:
//  1. validate; nothing is written on a validation error
//  2. resolve the user; an unknown key writes nothing
//  3. persist the notification
//  4. look up a push token; none is a soft failure (ErrNoPushToken)
//  5. hand off to the push provider; errors are logged and returned in Result
func (s *NotificationService) Notify(ctx context.Context, key string, in NotifyInput) Result {
	ctx, span := tracer().Start(ctx, "Notify",
		trace.WithAttributes(
			attribute.String("notify.key", key),
			attribute.String("notify.type", in.Type),
		),
	)
	defer span.End()

	key = strings.TrimSpace(key)
	if key == "" {
		return Result{Err: ErrMissingRecipient}
	}
	if strings.TrimSpace(in.Message) == "" {
		return Result{Err: ErrEmptyMessage}
	}

	user, err := repo.FindUser(ctx, s.DB, key)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{Err: fmt.Errorf("%w: %s", ErrUserNotFound, key)}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve user")
		s.Log.Error().Err(err).Str("key", key).Msg("resolve notification recipient")
		return Result{Err: err}
	}

	n := &domain.Notification{
		UserID:   user.ID,
		Username: user.DisplayName(),
		Title:    in.Title,
		Message:  in.Message,
		Type:     in.Type,
		Data:     datatypes.JSONMap(in.Data),
	}
	if err := repo.CreateNotification(ctx, s.DB, n); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist notification")
		s.Log.Error().Err(err).Str("user_id", user.ID).Msg("persist notification")
		return Result{Err: err}
	}
	span.SetAttributes(attribute.String("notification.id", n.ID))

	token, err := s.tokenFor(ctx, user.ID, key)
	if err != nil {
		if !errors.Is(err, ErrNoPushToken) {
			s.Log.Error().Err(err).Str("user_id", user.ID).Msg("lookup push token")
		}
		return Result{Notification: n, Err: err}
	}

	if err := s.Sender.SendToToken(ctx, token, payloadFor(in)); err != nil {
		s.Log.Warn().Err(err).Str("user_id", user.ID).Msg("push delivery failed")
		return Result{Notification: n, Err: err}
	}
	return Result{Delivered: true, Notification: n}
}

// NotifyAsync runs Notify on its own goroutine with a detached context.
// Failures are logged. Wait joins every pending call.
func (s *NotificationService) NotifyAsync(key string, in NotifyInput) {
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncNotifyTimeout)
		defer cancel()

		res := s.Notify(ctx, key, in)
		switch {
		case res.Err == nil:
			s.Log.Debug().Str("key", key).Msg("async notification delivered")
		case res.Notification != nil:
			s.Log.Warn().Err(res.Err).Str("key", key).Msg("async notification stored but not pushed")
		default:
			s.Log.Error().Err(res.Err).Str("key", key).Msg("async notification failed")
		}
	}()
}

// Wait blocks until every NotifyAsync call has finished.
func (s *NotificationService) Wait() { s.async.Wait() }

// Push sends in to identity's device without writing a notification record.
func (s *NotificationService) Push(ctx context.Context, identity string, in NotifyInput) Result {
	ctx, span := tracer().Start(ctx, "Push",
		trace.WithAttributes(attribute.String("push.identity", identity)),
	)
	defer span.End()

	token, err := s.tokenFor(ctx, identity, identity)
	if err != nil {
		if !errors.Is(err, ErrNoPushToken) {
			s.Log.Error().Err(err).Str("identity", identity).Msg("lookup push token")
		}
		return Result{Err: err}
	}
	if err := s.Sender.SendToToken(ctx, token, payloadFor(in)); err != nil {
		s.Log.Warn().Err(err).Str("identity", identity).Msg("push delivery failed")
		return Result{Err: err}
	}
	return Result{Delivered: true}
}

// Record persists n as-is, without resolving a user or pushing.
func (s *NotificationService) Record(ctx context.Context, n *domain.Notification) error {
	ctx, span := tracer().Start(ctx, "Record",
		trace.WithAttributes(attribute.String("notification.user_id", n.UserID)),
	)
	defer span.End()

	if strings.TrimSpace(n.UserID) == "" {
		return ErrMissingRecipient
	}
	if strings.TrimSpace(n.Message) == "" {
		return ErrEmptyMessage
	}
	return repo.CreateNotification(ctx, s.DB, n)
}

// Broadcast multicasts in to every stored device token and prunes tokens the
// provider reported as unregistered or invalid. Transient failures keep
// their tokens. A provider error is returned after any pruning.
func (s *NotificationService) Broadcast(ctx context.Context, in NotifyInput) (BroadcastResult, error) {
	ctx, span := tracer().Start(ctx, "Broadcast")
	defer span.End()

	if strings.TrimSpace(in.Message) == "" {
		return BroadcastResult{}, ErrEmptyMessage
	}

	tokens, err := repo.ListTokens(ctx, s.DB)
	if err != nil {
		return BroadcastResult{}, err
	}
	out := BroadcastResult{Tokens: len(tokens)}
	if len(tokens) == 0 {
		return out, nil
	}

	res, sendErr := s.Sender.SendToTokens(ctx, tokens, payloadFor(in))
	if sendErr != nil {
		s.Log.Warn().Err(sendErr).Int("tokens", len(tokens)).Msg("broadcast failed")
	}
	out.Failed = res.Failed

	if len(res.Stale) > 0 {
		n, err := repo.DeleteTokens(ctx, s.DB, res.Stale)
		if err != nil {
			s.Log.Error().Err(err).Msg("prune stale push tokens")
		}
		out.Pruned = n
	}
	span.SetAttributes(
		attribute.Int("broadcast.tokens", out.Tokens),
		attribute.Int("broadcast.failed", out.Failed),
	)
	return out, sendErr
}

// ListForUser returns the newest notifications of userID.
func (s *NotificationService) ListForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	ctx, span := tracer().Start(ctx, "ListForUser",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()
	return repo.ListUserNotifications(ctx, s.DB, userID, s.UserLimit)
}

// ListPage returns a page of notifications, optionally for one user.
// It applies defaults for invalid page/pageSize and returns the total count.
func (s *NotificationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, error) {
	ctx, span := tracer().Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := utils.Offset(page, pageSize)

	total, err := repo.CountNotifications(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Notification{}, 0, nil
	}
	items, err := repo.ListNotificationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Stats returns the row count and latest update time used for ETags.
func (s *NotificationService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.NotificationsStats(ctx, s.DB, userID)
}

// MarkRead flips the read flag of one notification and returns it.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*domain.Notification, error) {
	ctx, span := tracer().Start(ctx, "MarkRead",
		trace.WithAttributes(attribute.String("notification.id", id)),
	)
	defer span.End()

	if err := repo.MarkNotificationRead(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return repo.GetNotification(ctx, s.DB, id)
}

// MarkAllRead flips every unread notification of userID.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx, span := tracer().Start(ctx, "MarkAllRead",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return 0, ErrMissingRecipient
	}
	return repo.MarkAllNotificationsRead(ctx, s.DB, userID)
}

// SaveToken stores token as the current device of userID.
func (s *NotificationService) SaveToken(ctx context.Context, userID, token string) error {
	userID, token = strings.TrimSpace(userID), strings.TrimSpace(token)
	if userID == "" {
		return ErrMissingRecipient
	}
	if token == "" {
		return ErrMissingToken
	}
	return repo.SaveToken(ctx, s.DB, userID, token)
}

// SyncUser makes identity resolvable as a notification recipient, keeping
// username current when one is given.
func (s *NotificationService) SyncUser(ctx context.Context, identity, username string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrMissingRecipient
	}
	return repo.SyncUser(ctx, s.DB, identity, strings.TrimSpace(username))
}

// SaveTokenForUser is SaveToken restricted to identities present in the user
// directory. Unknown users yield ErrUserNotFound.
func (s *NotificationService) SaveTokenForUser(ctx context.Context, userID, token string) error {
	userID, token = strings.TrimSpace(userID), strings.TrimSpace(token)
	if userID == "" {
		return ErrMissingRecipient
	}
	if token == "" {
		return ErrMissingToken
	}
	if _, err := repo.GetUser(ctx, s.DB, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return repo.SaveToken(ctx, s.DB, userID, token)
}

// tokenFor looks up the device token of userID, falling back to the raw
// lookup key (e.g. the reserved admin identity) when they differ.
func (s *NotificationService) tokenFor(ctx context.Context, userID, key string) (string, error) {
	token, err := repo.GetToken(ctx, s.DB, userID)
	if err == nil && token != "" {
		return token, nil
	}
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	if key != "" && key != userID {
		token, err = repo.GetToken(ctx, s.DB, key)
		if err == nil && token != "" {
			return token, nil
		}
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
	}
	return "", ErrNoPushToken
}

// payloadFor builds the provider payload: title and body plus a flattened
// string-only data map that always carries the notification type.
func payloadFor(in NotifyInput) push.Notification {
	data := make(map[string]string, len(in.Data)+1)
	if in.Type != "" {
		data["type"] = in.Type
	}
	for k, v := range in.Data {
		data[k] = stringify(v)
	}
	return push.Notification{Title: in.Title, Body: in.Message, Data: data}
}

// stringify coerces a data value to text. Composite values become JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
