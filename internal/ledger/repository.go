package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUserNotFound      = NotFound("user")
	ErrUserBlocked       = errors.New("user is blocked")
	ErrOptimisticLock    = errors.New("optimistic lock error")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrDuplicate         = errors.New("duplicate record")
)

// NotFound returns an error for a missing entity that matches ErrNotFound.
func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// Invalid wraps a validation message so it matches ErrValidation.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StoreError classifies errors coming back from the database. Timeouts and
// lost connections become ErrStoreUnavailable, unique violations become
// ErrDuplicate. Anything else is returned unchanged.
func StoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrDuplicate) {
		return err
	}
	if IsDuplicate(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			pgErr.Code == "40001", pgErr.Code == "40P01", // serialization failure, deadlock
			pgErr.Code == "57P01", pgErr.Code == "57014": // admin shutdown, query canceled
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// IsDuplicate reports a unique constraint violation from any supported driver.
func IsDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type Repository interface {
	CreateAccount(ctx context.Context, userID string, now time.Time) (*Account, bool, error)
	GetAccount(ctx context.Context, userID string) (*Account, error)
	GetAccountForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*Account, error)
	Apply(ctx context.Context, tx *gorm.DB, acct *Account, t *Transaction, now time.Time) error
	HasTransaction(ctx context.Context, tx *gorm.DB, userID string, kind Kind) (bool, error)
	SumByKind(ctx context.Context, userID string, kind Kind) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, userID string, kind Kind, offset, limit int) ([]Transaction, error)
	SetBlocked(ctx context.Context, userID string, blocked bool, now time.Time) error
	MarkLogin(ctx context.Context, userID string, now time.Time) error
	MarkWelcomeSeen(ctx context.Context, userID string, now time.Time) error
	LinkReferrer(ctx context.Context, tx *gorm.DB, acct *Account, referrerID string, now time.Time) error
	IncrementReferralCount(ctx context.Context, tx *gorm.DB, acct *Account, now time.Time) error
	Stats(ctx context.Context) (*Stats, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

// CreateAccount inserts a zero-balance account unless one exists. The bool
// reports whether this call created it.
func (r *RepositoryImpl) CreateAccount(ctx context.Context, userID string, now time.Time) (*Account, bool, error) {
	a := Account{
		UserID:            userID,
		Balance:           decimal.Zero,
		EarningsTasks:     decimal.Zero,
		EarningsGames:     decimal.Zero,
		EarningsReferrals: decimal.Zero,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&a)
	if result.Error != nil {
		return nil, false, StoreError(result.Error)
	}
	if result.RowsAffected == 1 {
		return &a, true, nil
	}
	existing, err := r.GetAccount(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *RepositoryImpl) GetAccount(ctx context.Context, userID string) (*Account, error) {
	var a Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, StoreError(err)
	}
	return &a, nil
}

func (r *RepositoryImpl) GetAccountForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*Account, error) {
	var a Account
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, StoreError(err)
	}
	return &a, nil
}

// Apply moves the balance of acct by t.Amount and appends t. The update is
// guarded by the version read with the account; a concurrent writer makes it
// fail with ErrOptimisticLock. On success acct reflects the new row.
func (r *RepositoryImpl) Apply(ctx context.Context, tx *gorm.DB, acct *Account, t *Transaction, now time.Time) error {
	newBalance := acct.Balance.Add(t.Amount)
	if newBalance.IsNegative() {
		return ErrInsufficientFunds
	}

	updates := map[string]interface{}{
		"balance":    newBalance,
		"version":    gorm.Expr("version + 1"),
		"updated_at": now,
	}
	earned := decimal.Max(t.Amount, decimal.Zero)
	var bucket *decimal.Decimal
	switch t.Kind.Category() {
	case CategoryTasks:
		bucket = &acct.EarningsTasks
		updates["earnings_tasks"] = acct.EarningsTasks.Add(earned)
	case CategoryGames:
		bucket = &acct.EarningsGames
		updates["earnings_games"] = acct.EarningsGames.Add(earned)
	case CategoryReferrals:
		bucket = &acct.EarningsReferrals
		updates["earnings_referrals"] = acct.EarningsReferrals.Add(earned)
	}

	result := tx.WithContext(ctx).Model(&Account{}).
		Where("user_id = ? AND version = ?", acct.UserID, acct.Version).
		Updates(updates)
	if result.Error != nil {
		return StoreError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	t.TransactionID = uuid.New().String()
	t.UserID = acct.UserID
	t.BalanceBefore = acct.Balance
	t.BalanceAfter = newBalance
	t.CreatedAt = now

	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		return StoreError(err)
	}

	acct.Balance = newBalance
	acct.Version++
	acct.UpdatedAt = now
	if bucket != nil {
		*bucket = bucket.Add(earned)
	}
	return nil
}

func (r *RepositoryImpl) HasTransaction(ctx context.Context, tx *gorm.DB, userID string, kind Kind) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).Model(&Transaction{}).
		Where("user_id = ? AND kind = ?", userID, kind).
		Limit(1).Count(&count).Error
	if err != nil {
		return false, StoreError(err)
	}
	return count > 0, nil
}

func (r *RepositoryImpl) SumByKind(ctx context.Context, userID string, kind Kind) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).Model(&Transaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND kind = ?", userID, kind).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, StoreError(err)
	}
	return row.Total, nil
}

// ListTransactions returns newest first. An empty kind lists every kind.
func (r *RepositoryImpl) ListTransactions(ctx context.Context, userID string, kind Kind, offset, limit int) ([]Transaction, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var txs []Transaction
	err := q.Order("created_at DESC").Order("transaction_id DESC").
		Offset(offset).Limit(limit).Find(&txs).Error
	if err != nil {
		return nil, StoreError(err)
	}
	return txs, nil
}

func (r *RepositoryImpl) SetBlocked(ctx context.Context, userID string, blocked bool, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&Account{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"blocked":    blocked,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return StoreError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkLogin stamps last_login_at and, the first time, first_login_at.
func (r *RepositoryImpl) MarkLogin(ctx context.Context, userID string, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&Account{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"first_login_at": gorm.Expr("COALESCE(first_login_at, ?)", now),
			"last_login_at":  now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return StoreError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *RepositoryImpl) MarkWelcomeSeen(ctx context.Context, userID string, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&Account{}).
		Where("user_id = ? AND welcome_seen_at IS NULL", userID).
		Updates(map[string]interface{}{
			"welcome_seen_at": now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return StoreError(result.Error)
	}
	if result.RowsAffected == 0 {
		// Already acknowledged, or no such user.
		if _, err := r.GetAccount(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// LinkReferrer sets referred_by once. A second link attempt fails with
// ErrDuplicate.
func (r *RepositoryImpl) LinkReferrer(ctx context.Context, tx *gorm.DB, acct *Account, referrerID string, now time.Time) error {
	result := tx.WithContext(ctx).Model(&Account{}).
		Where("user_id = ? AND version = ? AND referred_by IS NULL", acct.UserID, acct.Version).
		Updates(map[string]interface{}{
			"referred_by": referrerID,
			"version":     gorm.Expr("version + 1"),
			"updated_at":  now,
		})
	if result.Error != nil {
		return StoreError(result.Error)
	}
	if result.RowsAffected == 0 {
		if acct.ReferredBy != nil {
			return fmt.Errorf("%w: %s already referred by %s", ErrDuplicate, acct.UserID, *acct.ReferredBy)
		}
		return ErrOptimisticLock
	}
	acct.ReferredBy = &referrerID
	acct.Version++
	acct.UpdatedAt = now
	return nil
}

func (r *RepositoryImpl) IncrementReferralCount(ctx context.Context, tx *gorm.DB, acct *Account, now time.Time) error {
	result := tx.WithContext(ctx).Model(&Account{}).
		Where("user_id = ? AND version = ?", acct.UserID, acct.Version).
		Updates(map[string]interface{}{
			"referral_count": gorm.Expr("referral_count + 1"),
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})
	if result.Error != nil {
		return StoreError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	acct.ReferralCount++
	acct.Version++
	acct.UpdatedAt = now
	return nil
}

func (r *RepositoryImpl) Stats(ctx context.Context) (*Stats, error) {
	var row struct {
		Users        int64
		BlockedUsers int64
		TotalBalance decimal.Decimal
	}
	err := r.db.WithContext(ctx).Model(&Account{}).
		Select("COUNT(*) AS users, " +
			"COALESCE(SUM(CASE WHEN blocked THEN 1 ELSE 0 END), 0) AS blocked_users, " +
			"COALESCE(SUM(balance), 0) AS total_balance").
		Scan(&row).Error
	if err != nil {
		return nil, StoreError(err)
	}
	return &Stats{Users: row.Users, BlockedUsers: row.BlockedUsers, TotalBalance: row.TotalBalance}, nil
}
