package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Request struct {
	RequestID     string          `gorm:"column:request_id;primaryKey;type:varchar(36)" json:"request_id"`
	UserID        string          `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	Method        string          `gorm:"column:method;type:varchar(64);not null" json:"method"`
	AccountRef    string          `gorm:"column:account_ref;type:varchar(255);not null" json:"account_ref"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	Status        Status          `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	TransactionID string          `gorm:"column:transaction_id;type:varchar(36);not null" json:"transaction_id"`
	Note          string          `gorm:"column:note;type:varchar(255)" json:"note"`
	ResolvedBy    *string         `gorm:"column:resolved_by;type:varchar(64)" json:"resolved_by"`
	ResolvedAt    *time.Time      `gorm:"column:resolved_at" json:"resolved_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}

func (Request) TableName() string { return "withdrawal_requests" }

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

type Decision struct {
	Action  Action `json:"action"`
	AdminID string `json:"admin_id"`
	Note    string `json:"note"`
}

type TopWithdrawer struct {
	UserID string          `json:"user_id"`
	Total  decimal.Decimal `json:"total"`
	Count  int64           `json:"count"`
}

type Stats struct {
	Pending        int64           `json:"pending"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
}
