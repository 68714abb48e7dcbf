package window

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reward_ledger/internal/ledger"
)

type Repository interface {
	// Increment bumps the counter for day if it is below limit, starting a
	// fresh window when the stored date differs. It reports whether a row
	// was changed.
	Increment(ctx context.Context, tx *gorm.DB, userID, featureKey, day string, limit int, now time.Time) (bool, error)
	// Insert creates a counter for day with count 1. It reports false when
	// the row already exists.
	Insert(ctx context.Context, tx *gorm.DB, userID, featureKey, day string, now time.Time) (bool, error)
	Get(ctx context.Context, tx *gorm.DB, userID, featureKey string) (*Counter, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *RepositoryImpl) Increment(ctx context.Context, tx *gorm.DB, userID, featureKey, day string, limit int, now time.Time) (bool, error) {
	result := r.conn(tx).WithContext(ctx).Model(&Counter{}).
		Where("user_id = ? AND feature_key = ?", userID, featureKey).
		Where("(window_date <> ? OR count < ?)", day, limit).
		Updates(map[string]interface{}{
			"count":       gorm.Expr("CASE WHEN window_date = ? THEN count + 1 ELSE 1 END", day),
			"window_date": day,
			"updated_at":  now,
		})
	if result.Error != nil {
		return false, ledger.StoreError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *RepositoryImpl) Insert(ctx context.Context, tx *gorm.DB, userID, featureKey, day string, now time.Time) (bool, error) {
	c := Counter{
		UserID:     userID,
		FeatureKey: featureKey,
		Count:      1,
		WindowDate: day,
		UpdatedAt:  now,
	}
	result := r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&c)
	if result.Error != nil {
		return false, ledger.StoreError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *RepositoryImpl) Get(ctx context.Context, tx *gorm.DB, userID, featureKey string) (*Counter, error) {
	var c Counter
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND feature_key = ?", userID, featureKey).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, ledger.StoreError(err)
	}
	return &c, nil
}
