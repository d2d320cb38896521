// Package services – MessageService
//
// This file implements MessageService, which owns persistence of chat turns
// between shoppers and the admin identity: storing a message, fetching the
// recent conversation history and listing everyone who ever wrote to the
// admin (used to backfill the admin's conversation list).
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include sender/receiver identifiers where applicable.
package services

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-shop-relay/internal/domain"
	"github.com/tbourn/go-shop-relay/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultHistoryLimit = 50

// MessageService coordinates chat message persistence and retrieval.
type MessageService struct {
	DB *gorm.DB

	// HistoryLimit caps History; non-positive means defaultHistoryLimit.
	HistoryLimit int

	// Now is the clock used for message timestamps (tests override it).
	Now func() time.Time
}

// NewMessageService constructs a MessageService.
func NewMessageService(db *gorm.DB, historyLimit int) *MessageService {
	return &MessageService{DB: db, HistoryLimit: historyLimit, Now: func() time.Time { return time.Now().UTC() }}
}

// Send validates and persists one chat turn.
func (s *MessageService) Send(ctx context.Context, sender, receiver, body string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("message.sender", sender),
			attribute.String("message.receiver", receiver),
		),
	)
	defer span.End()

	if strings.TrimSpace(sender) == "" {
		return nil, ErrNotRegistered
	}
	if strings.TrimSpace(receiver) == "" {
		return nil, ErrMissingRecipient
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}

	at := time.Time{}
	if s.Now != nil {
		at = s.Now()
	}
	return repo.CreateMessage(ctx, s.DB, sender, receiver, body, at)
}

// History returns the most recent non-hidden messages between userID and
// adminID, oldest first.
func (s *MessageService) History(ctx context.Context, userID, adminID string) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("admin.id", adminID),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingRecipient
	}
	limit := s.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return repo.ListConversation(ctx, s.DB, userID, adminID, limit)
}

// Correspondents lists every distinct identity that has written to adminID,
// most recently active first.
func (s *MessageService) Correspondents(ctx context.Context, adminID string) ([]repo.SenderActivity, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Correspondents",
		trace.WithAttributes(attribute.String("admin.id", adminID)),
	)
	defer span.End()

	return repo.ListSendersTo(ctx, s.DB, adminID)
}
