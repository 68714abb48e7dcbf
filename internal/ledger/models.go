package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindSignupBonus       Kind = "signup_bonus"
	KindReferralBonus     Kind = "referral_bonus"
	KindTaskComplete      Kind = "task_complete"
	KindLoginBonus        Kind = "login_bonus"
	KindSpinWin           Kind = "spin_win"
	KindWithdrawalRequest Kind = "withdrawal_request"
	KindWithdrawalRefund  Kind = "withdrawal_refund"
)

type Category string

const (
	CategoryNone      Category = ""
	CategoryTasks     Category = "tasks"
	CategoryGames     Category = "games"
	CategoryReferrals Category = "referrals"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSignupBonus, KindReferralBonus, KindTaskComplete, KindLoginBonus,
		KindSpinWin, KindWithdrawalRequest, KindWithdrawalRefund:
		return true
	}
	return false
}

// Category is the earnings bucket a credit of this kind counts toward.
func (k Kind) Category() Category {
	switch k {
	case KindTaskComplete, KindLoginBonus:
		return CategoryTasks
	case KindSpinWin:
		return CategoryGames
	case KindReferralBonus, KindSignupBonus:
		return CategoryReferrals
	}
	return CategoryNone
}

// Debit reports whether entries of this kind take money out of the balance.
func (k Kind) Debit() bool {
	return k == KindWithdrawalRequest
}

// Compensating kinds reverse an earlier entry and are applied even to
// blocked accounts.
func (k Kind) Compensating() bool {
	return k == KindWithdrawalRefund
}

type Account struct {
	UserID            string          `gorm:"column:user_id;primaryKey;type:varchar(64)"`
	Balance           decimal.Decimal `gorm:"column:balance;type:numeric(20,2);not null;default:0"`
	EarningsTasks     decimal.Decimal `gorm:"column:earnings_tasks;type:numeric(20,2);not null;default:0"`
	EarningsGames     decimal.Decimal `gorm:"column:earnings_games;type:numeric(20,2);not null;default:0"`
	EarningsReferrals decimal.Decimal `gorm:"column:earnings_referrals;type:numeric(20,2);not null;default:0"`
	ReferralCount     int             `gorm:"column:referral_count;not null;default:0"`
	ReferredBy        *string         `gorm:"column:referred_by;type:varchar(64);index"`
	Blocked           bool            `gorm:"column:blocked;not null;default:false"`
	FirstLoginAt      *time.Time      `gorm:"column:first_login_at"`
	LastLoginAt       *time.Time      `gorm:"column:last_login_at"`
	WelcomeSeenAt     *time.Time      `gorm:"column:welcome_seen_at"`
	Version           int             `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;not null"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) Earnings() map[Category]decimal.Decimal {
	return map[Category]decimal.Decimal{
		CategoryTasks:     a.EarningsTasks,
		CategoryGames:     a.EarningsGames,
		CategoryReferrals: a.EarningsReferrals,
	}
}

// NeedsWelcome is true until the user acknowledges the welcome screen.
func (a *Account) NeedsWelcome() bool {
	return a.WelcomeSeenAt == nil
}

type Transaction struct {
	TransactionID string          `gorm:"column:transaction_id;primaryKey;type:varchar(36)"`
	UserID        string          `gorm:"column:user_id;type:varchar(64);not null;index:idx_ledger_user_kind,priority:1"`
	Kind          Kind            `gorm:"column:kind;type:varchar(32);not null;index:idx_ledger_user_kind,priority:2;uniqueIndex:idx_ledger_kind_reference,priority:1"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null"`
	BalanceBefore decimal.Decimal `gorm:"column:balance_before;type:numeric(20,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"column:balance_after;type:numeric(20,2);not null"`
	Description   string          `gorm:"column:description;type:varchar(255);not null"`
	ReferenceID   *string         `gorm:"column:reference_id;type:varchar(255);uniqueIndex:idx_ledger_kind_reference,priority:2"` // withdrawal id, task completion key
	CreatedAt     time.Time       `gorm:"column:created_at;not null"`
}

func (Transaction) TableName() string { return "ledger_transactions" }

// Entry is a request to append one transaction.
type Entry struct {
	UserID      string
	Kind        Kind
	Amount      decimal.Decimal
	Description string
	ReferenceID string
}

type Stats struct {
	Users        int64           `json:"users"`
	BlockedUsers int64           `json:"blocked_users"`
	TotalBalance decimal.Decimal `json:"total_balance"`
}

type TransactionView struct {
	TransactionID string          `json:"transaction_id"`
	Kind          Kind            `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (t *Transaction) View() TransactionView {
	return TransactionView{
		TransactionID: t.TransactionID,
		Kind:          t.Kind,
		Amount:        t.Amount,
		BalanceAfter:  t.BalanceAfter,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
	}
}
