package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-shop-relay/internal/domain"
)

// NotificationsStats returns how many notifications exist, for one recipient
// or all when userID is empty, and the newest UpdatedAt among them. The list
// endpoints derive their ETag from it. latest is nil when count is 0.
func NotificationsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, latest *time.Time, err error) {
	scoped := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.Notification{})
		if userID != "" {
			q = q.Where("user_id = ?", userID)
		}
		return q
	}

	if err := scoped().Count(&count).Error; err != nil {
		return 0, nil, fmt.Errorf("count notifications: %w", err)
	}
	if count == 0 {
		return 0, nil, nil
	}

	// SQLite hands MAX(updated_at) back as TEXT; ordering keeps the time type.
	var newest domain.Notification
	if err := scoped().Select("updated_at").Order("updated_at DESC").Take(&newest).Error; err != nil {
		return 0, nil, fmt.Errorf("latest notification: %w", err)
	}
	ts := newest.UpdatedAt.UTC()
	return count, &ts, nil
}
