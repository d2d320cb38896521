// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for push device
// tokens.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-shop-relay/internal/domain"
)

// SaveToken stores token as the current device token for userID, replacing
// any earlier one (atomic upsert on user_id).
func SaveToken(ctx context.Context, db *gorm.DB, userID, token string) error {
	now := time.Now().UTC()
	rec := &domain.FcmToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
	}).Create(rec).Error
}

// GetToken returns the device token for userID or ErrNotFound.
func GetToken(ctx context.Context, db *gorm.DB, userID string) (string, error) {
	var rec domain.FcmToken
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return "", err
	}
	return rec.Token, nil
}

// ListTokens returns every stored device token.
func ListTokens(ctx context.Context, db *gorm.DB) ([]string, error) {
	var tokens []string
	err := db.WithContext(ctx).
		Model(&domain.FcmToken{}).
		Order("updated_at desc").
		Pluck("token", &tokens).Error
	return tokens, err
}

// DeleteTokens removes the given device tokens and returns how many rows went.
func DeleteTokens(ctx context.Context, db *gorm.DB, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Where("token IN ?", tokens).
		Delete(&domain.FcmToken{})
	return res.RowsAffected, res.Error
}
