package referral

import (
	"time"

	"github.com/shopspring/decimal"

	"reward_ledger/internal/ledger"
)

type Referral struct {
	ID            uint            `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RefereeID     string          `gorm:"column:referee_id;type:varchar(64);not null;uniqueIndex" json:"referee_id"`
	ReferrerID    string          `gorm:"column:referrer_id;type:varchar(64);not null;index" json:"referrer_id"`
	ReferrerBonus decimal.Decimal `gorm:"column:referrer_bonus;type:numeric(20,2);not null" json:"referrer_bonus"`
	RefereeBonus  decimal.Decimal `gorm:"column:referee_bonus;type:numeric(20,2);not null" json:"referee_bonus"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}

func (Referral) TableName() string { return "referrals" }

type Result struct {
	AlreadyProcessed    bool                `json:"already_processed"`
	ReferrerTransaction *ledger.Transaction `json:"-"`
	RefereeTransaction  *ledger.Transaction `json:"-"`
}

type Summary struct {
	ReferrerID string          `json:"referrer_id"`
	Count      int             `json:"count"`
	Earnings   decimal.Decimal `json:"earnings"`
	Referrals  []Referral      `json:"referrals"`
}
