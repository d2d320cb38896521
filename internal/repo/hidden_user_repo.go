// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the HiddenUser
// relation.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-shop-relay/internal/domain"
)

// HideUser records that adminID suppressed userID. Repeating the call for the
// same pair is a no-op.
func HideUser(ctx context.Context, db *gorm.DB, adminID, userID string) error {
	rec := &domain.HiddenUser{
		ID:        uuid.NewString(),
		AdminID:   adminID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "admin_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(rec).Error
}

// UnhideUser deletes the (adminID, userID) relation if present.
func UnhideUser(ctx context.Context, db *gorm.DB, adminID, userID string) error {
	return db.WithContext(ctx).
		Where("admin_id = ? AND user_id = ?", adminID, userID).
		Delete(&domain.HiddenUser{}).Error
}

// ListHiddenUserIDs returns every identity hidden by adminID.
func ListHiddenUserIDs(ctx context.Context, db *gorm.DB, adminID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.HiddenUser{}).
		Where("admin_id = ?", adminID).
		Order("created_at asc").
		Pluck("user_id", &ids).Error
	return ids, err
}

// HiddenUsers binds the hidden-relation functions to one DB handle so they
// can be injected where an interface is expected.
type HiddenUsers struct {
	DB *gorm.DB
}

func (h HiddenUsers) HideUser(ctx context.Context, adminID, userID string) error {
	return HideUser(ctx, h.DB, adminID, userID)
}

func (h HiddenUsers) UnhideUser(ctx context.Context, adminID, userID string) error {
	return UnhideUser(ctx, h.DB, adminID, userID)
}

func (h HiddenUsers) ListHidden(ctx context.Context, adminID string) ([]string, error) {
	return ListHiddenUserIDs(ctx, h.DB, adminID)
}
