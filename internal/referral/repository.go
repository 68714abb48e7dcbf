package referral

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"reward_ledger/internal/ledger"
)

var (
	ErrSelfReferral    = errors.New("user cannot refer themselves")
	ErrAlreadyReferred = errors.New("user already has a referrer")
)

type Repository interface {
	Create(ctx context.Context, tx *gorm.DB, r *Referral) error
	Exists(ctx context.Context, tx *gorm.DB, refereeID string) (bool, error)
	ListByReferrer(ctx context.Context, referrerID string, limit int) ([]Referral, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) Create(ctx context.Context, tx *gorm.DB, ref *Referral) error {
	if err := tx.WithContext(ctx).Create(ref).Error; err != nil {
		if ledger.IsDuplicate(err) {
			return ErrAlreadyReferred
		}
		return fmt.Errorf("failed to create referral: %w", ledger.StoreError(err))
	}
	return nil
}

func (r *RepositoryImpl) Exists(ctx context.Context, tx *gorm.DB, refereeID string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).Model(&Referral{}).Where("referee_id = ?", refereeID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check referral: %w", ledger.StoreError(err))
	}
	return count > 0, nil
}

func (r *RepositoryImpl) ListByReferrer(ctx context.Context, referrerID string, limit int) ([]Referral, error) {
	var refs []Referral
	err := r.db.WithContext(ctx).Where("referrer_id = ?", referrerID).
		Order("created_at DESC").Limit(limit).Find(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", ledger.StoreError(err))
	}
	return refs, nil
}
