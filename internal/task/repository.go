package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reward_ledger/internal/ledger"
)

var (
	ErrTaskNotFound          = ledger.NotFound("task")
	ErrTaskInactive          = errors.New("task is not active")
	ErrAlreadyCompletedToday = errors.New("task already completed today")
)

type Repository interface {
	GetDefinition(ctx context.Context, taskID string) (*Definition, error)
	ListActive(ctx context.Context) ([]Definition, error)
	UpsertDefinition(ctx context.Context, d *Definition) error
	CreateClaim(ctx context.Context, c *Claim) error
	GetClaim(ctx context.Context, userID, taskID, dateKey string) (*Claim, error)
	IsCompleted(ctx context.Context, tx *gorm.DB, userID, taskID, dateKey string) (bool, error)
	CompletedTaskIDs(ctx context.Context, userID, dateKey string) (map[string]bool, error)
	CreateCompletion(ctx context.Context, tx *gorm.DB, c *Completion) error
	DeleteClaimsBefore(ctx context.Context, before time.Time) (int64, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepositoryImpl(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) GetDefinition(ctx context.Context, taskID string) (*Definition, error) {
	var d Definition
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", ledger.StoreError(err))
	}
	return &d, nil
}

func (r *RepositoryImpl) ListActive(ctx context.Context) ([]Definition, error) {
	var defs []Definition
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("task_id").Find(&defs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", ledger.StoreError(err))
	}
	return defs, nil
}

func (r *RepositoryImpl) UpsertDefinition(ctx context.Context, d *Definition) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"type", "title", "url", "reward", "verification_delay_seconds", "active", "updated_at",
		}),
	}).Create(d).Error
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", d.TaskID, ledger.StoreError(err))
	}
	return nil
}

// CreateClaim keeps the first claim of the day; restarting a task does not
// push its countdown back.
func (r *RepositoryImpl) CreateClaim(ctx context.Context, c *Claim) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c).Error
	if err != nil {
		return fmt.Errorf("failed to create task claim: %w", ledger.StoreError(err))
	}
	return nil
}

func (r *RepositoryImpl) GetClaim(ctx context.Context, userID, taskID, dateKey string) (*Claim, error) {
	var c Claim
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ? AND date_key = ?", userID, taskID, dateKey).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task claim: %w", ledger.StoreError(err))
	}
	return &c, nil
}

func (r *RepositoryImpl) IsCompleted(ctx context.Context, tx *gorm.DB, userID, taskID, dateKey string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).Model(&Completion{}).
		Where("user_id = ? AND task_id = ? AND date_key = ?", userID, taskID, dateKey).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check completion: %w", ledger.StoreError(err))
	}
	return count > 0, nil
}

func (r *RepositoryImpl) CompletedTaskIDs(ctx context.Context, userID, dateKey string) (map[string]bool, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Completion{}).
		Where("user_id = ? AND date_key = ?", userID, dateKey).
		Pluck("task_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", ledger.StoreError(err))
	}
	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	return done, nil
}

// CreateCompletion relies on the unique key; a second completion for the
// same day fails with ErrAlreadyCompletedToday.
func (r *RepositoryImpl) CreateCompletion(ctx context.Context, tx *gorm.DB, c *Completion) error {
	err := tx.WithContext(ctx).Create(c).Error
	if err != nil {
		if ledger.IsDuplicate(err) {
			return ErrAlreadyCompletedToday
		}
		return fmt.Errorf("failed to record completion: %w", ledger.StoreError(err))
	}
	return nil
}

func (r *RepositoryImpl) DeleteClaimsBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("started_at < ?", before).Delete(&Claim{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge task claims: %w", ledger.StoreError(result.Error))
	}
	return result.RowsAffected, nil
}
