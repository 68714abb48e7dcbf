package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"reward_ledger/internal/ledger"
)

var (
	ErrRequestNotFound   = ledger.NotFound("withdrawal request")
	ErrInvalidTransition = errors.New("invalid withdrawal status transition")
	ErrBelowMinimum      = errors.New("amount below minimum withdrawal")
	ErrAboveMaximum      = errors.New("amount above maximum withdrawal")
	ErrMethodUnavailable = errors.New("withdrawal method unavailable")
)

type Repository interface {
	Create(ctx context.Context, tx *gorm.DB, r *Request) error
	Get(ctx context.Context, tx *gorm.DB, requestID string) (*Request, error)
	// Transition moves a pending request to status. It reports false when
	// the request is missing or no longer pending.
	Transition(ctx context.Context, tx *gorm.DB, requestID string, status Status, adminID, note string, now time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Request, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Request, error)
	TopWithdrawers(ctx context.Context, limit int) ([]TopWithdrawer, error)
	Stats(ctx context.Context) (*Stats, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) Create(ctx context.Context, tx *gorm.DB, req *Request) error {
	if err := tx.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", ledger.StoreError(err))
	}
	return nil
}

func (r *RepositoryImpl) Get(ctx context.Context, tx *gorm.DB, requestID string) (*Request, error) {
	if tx == nil {
		tx = r.db
	}
	var req Request
	err := tx.WithContext(ctx).Where("request_id = ?", requestID).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal request: %w", ledger.StoreError(err))
	}
	return &req, nil
}

func (r *RepositoryImpl) Transition(ctx context.Context, tx *gorm.DB, requestID string, status Status, adminID, note string, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Model(&Request{}).
		Where("request_id = ? AND status = ?", requestID, StatusPending).
		Updates(map[string]interface{}{
			"status":      status,
			"resolved_by": adminID,
			"resolved_at": now,
			"note":        note,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update withdrawal status: %w", ledger.StoreError(result.Error))
	}
	return result.RowsAffected > 0, nil
}

func (r *RepositoryImpl) ListByUser(ctx context.Context, userID string, limit int) ([]Request, error) {
	var reqs []Request
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", ledger.StoreError(err))
	}
	return reqs, nil
}

func (r *RepositoryImpl) ListByStatus(ctx context.Context, status Status, limit int) ([]Request, error) {
	var reqs []Request
	err := r.db.WithContext(ctx).Where("status = ?", status).
		Order("created_at ASC").Limit(limit).Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", ledger.StoreError(err))
	}
	return reqs, nil
}

func (r *RepositoryImpl) TopWithdrawers(ctx context.Context, limit int) ([]TopWithdrawer, error) {
	var rows []TopWithdrawer
	err := r.db.WithContext(ctx).Model(&Request{}).
		Select("user_id, SUM(amount) AS total, COUNT(*) AS count").
		Where("status = ?", StatusApproved).
		Group("user_id").
		Order("total DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank withdrawers: %w", ledger.StoreError(err))
	}
	return rows, nil
}

func (r *RepositoryImpl) Stats(ctx context.Context) (*Stats, error) {
	var row struct {
		Pending        int64
		PendingAmount  decimal.Decimal
		TotalWithdrawn decimal.Decimal
	}
	err := r.db.WithContext(ctx).Model(&Request{}).
		Select("COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS pending_amount, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS total_withdrawn",
			StatusPending, StatusPending, StatusApproved).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load withdrawal stats: %w", ledger.StoreError(err))
	}
	return &Stats{Pending: row.Pending, PendingAmount: row.PendingAmount, TotalWithdrawn: row.TotalWithdrawn}, nil
}
