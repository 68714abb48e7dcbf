package task

import (
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeAd    Type = "ad"
	TypeLink  Type = "link"
	TypeVideo Type = "video"
	TypeLogin Type = "login"
)

// LoginTaskID is the implicit task behind the daily login bonus.
const LoginTaskID = "daily_login"

// DefaultVerificationDelay applies when a definition leaves the delay unset.
const DefaultVerificationDelay = 30 * time.Second

type Definition struct {
	TaskID                   string          `gorm:"column:task_id;primaryKey;type:varchar(64)" json:"task_id"`
	Type                     Type            `gorm:"column:type;type:varchar(16);not null" json:"type"`
	Title                    string          `gorm:"column:title;type:varchar(255);not null" json:"title"`
	URL                      string          `gorm:"column:url;type:varchar(1024)" json:"url"`
	Reward                   decimal.Decimal `gorm:"column:reward;type:numeric(20,2);not null" json:"reward"`
	VerificationDelaySeconds int             `gorm:"column:verification_delay_seconds;not null" json:"verification_delay_seconds"`
	Active                   bool            `gorm:"column:active;not null" json:"active"`
	CreatedAt                time.Time       `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Definition) TableName() string { return "task_definitions" }

func (d *Definition) Delay() time.Duration {
	if d.VerificationDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(d.VerificationDelaySeconds) * time.Second
}

// Claim is the advisory countdown started when a user opens a task.
type Claim struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_task_claim_key,priority:1" json:"user_id"`
	TaskID      string    `gorm:"column:task_id;type:varchar(64);not null;uniqueIndex:idx_task_claim_key,priority:2" json:"task_id"`
	DateKey     string    `gorm:"column:date_key;type:varchar(10);not null;uniqueIndex:idx_task_claim_key,priority:3" json:"date_key"`
	StartedAt   time.Time `gorm:"column:started_at;not null;index" json:"started_at"`
	ClaimableAt time.Time `gorm:"column:claimable_at;not null" json:"claimable_at"`
}

func (Claim) TableName() string { return "task_claims" }

// Completion is the once-per-day dedup record.
type Completion struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID        string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_completed_task_key,priority:1" json:"user_id"`
	TaskID        string    `gorm:"column:task_id;type:varchar(64);not null;uniqueIndex:idx_completed_task_key,priority:2" json:"task_id"`
	DateKey       string    `gorm:"column:date_key;type:varchar(10);not null;uniqueIndex:idx_completed_task_key,priority:3" json:"date_key"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(36);not null" json:"transaction_id"`
	CompletedAt   time.Time `gorm:"column:completed_at;not null" json:"completed_at"`
}

func (Completion) TableName() string { return "completed_tasks" }

type State string

const (
	StateNotStarted State = "not_started"
	StatePending    State = "pending"
	StateClaimable  State = "claimable"
	StateCompleted  State = "completed"
)

type Status struct {
	TaskID      string     `json:"task_id"`
	State       State      `json:"state"`
	ClaimableAt *time.Time `json:"claimable_at,omitempty"`
}

type Available struct {
	TaskID                   string          `json:"task_id"`
	Type                     Type            `json:"type"`
	Title                    string          `json:"title"`
	URL                      string          `json:"url,omitempty"`
	Reward                   decimal.Decimal `json:"reward"`
	VerificationDelaySeconds int             `json:"verification_delay_seconds"`
	Completed                bool            `json:"completed"`
}
