// Package repo – document statistics.
//
// DocumentStats backs weak ETags on read endpoints: the pair (number of
// documents, greatest updated_at) changes whenever any of a user's documents
// in the listed collections is written.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/wellness-sync/internal/domain"
)

// DocumentStats returns the number of documents stored under key across the
// given collections and the greatest UpdatedAt among them. When none exist,
// count is 0 and maxUpdatedAt is nil.
func DocumentStats(ctx context.Context, db *gorm.DB, key string, collections ...string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Document{}).Where("doc_key = ?", key)
	if len(collections) > 0 {
		q = q.Where("collection IN ?", collections)
	}

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
