// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-shop-relay/internal/domain"
)

// CreateMessage inserts a new chat message row.
func CreateMessage(ctx context.Context, db *gorm.DB, sender, receiver, body string, at time.Time) (*domain.Message, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	m := &domain.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		Body:      body,
		Timestamp: at,
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListConversation returns up to limit non-hidden messages exchanged between
// a and b in either direction, oldest first. The newest messages win when the
// conversation is longer than limit.
func ListConversation(ctx context.Context, db *gorm.DB, a, b string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).
		Where("((sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)) AND hidden = ?", a, b, b, a, false).
		Order("sent_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SenderActivity is a distinct correspondent with the time of their latest
// message.
type SenderActivity struct {
	Sender string
	LastAt time.Time
}

// ListSendersTo returns every distinct sender who has messaged receiver,
// most recently active first.
func ListSendersTo(ctx context.Context, db *gorm.DB, receiver string) ([]SenderActivity, error) {
	var rows []struct {
		Sender string
		SentAt time.Time
	}
	// Dedup in Go: MAX(sent_at) comes back as TEXT on SQLite.
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Select("sender, sent_at").
		Where("receiver = ?", receiver).
		Order("sent_at desc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([]SenderActivity, 0)
	for _, r := range rows {
		if _, ok := seen[r.Sender]; ok {
			continue
		}
		seen[r.Sender] = struct{}{}
		out = append(out, SenderActivity{Sender: r.Sender, LastAt: r.SentAt})
	}
	return out, nil
}
