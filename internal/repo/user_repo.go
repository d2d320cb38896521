// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides access to the user directory.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-shop-relay/internal/domain"
)

// GetUser fetches a user by primary key or returns ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUser resolves key as a user ID first and then as a username or email.
// It returns ErrNotFound when neither lookup matches.
func FindUser(ctx context.Context, db *gorm.DB, key string) (*domain.User, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrNotFound
	}

	u, err := GetUser(ctx, db, key)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var alt domain.User
	err = db.WithContext(ctx).
		Where("username = ? OR email = ?", key, key).
		Order("created_at asc").
		First(&alt).Error
	if err != nil {
		return nil, err
	}
	return &alt, nil
}

// SyncUser records that id connected under username. A new id is inserted;
// an existing one only has its username refreshed, and only when username is
// non-empty. Email, name and the admin flag are never touched.
func SyncUser(ctx context.Context, db *gorm.DB, id, username string) error {
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
	}
	if username == "" {
		onConflict = clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}
	}
	return db.WithContext(ctx).
		Clauses(onConflict).
		Create(&domain.User{ID: id, Username: username}).Error
}
