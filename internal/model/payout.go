package model

import (
	"time"

	"offerledger/pkg/amount"
)

const (
	PayoutStatusPending = "PENDING"
	PayoutStatusPaid    = "PAID"
	PayoutStatusFailed  = "FAILED"
)

// PayoutRecord 提现单
// ID 由我们生成，同时作为支付渠道的幂等键；ExternalTransferRef 在转账创建成功后回填。
// 状态只能 PENDING -> PAID 或 PENDING -> FAILED。
type PayoutRecord struct {
	ID                  string       `gorm:"type:varchar(64);primaryKey" json:"id"`
	AccountID           string       `gorm:"type:varchar(128);index;not null" json:"account_id"`
	Amount              amount.Cents `gorm:"not null" json:"amount"`
	Currency            string       `gorm:"type:varchar(8);not null" json:"currency"`
	Status              string       `gorm:"type:varchar(20);index;not null" json:"status"`
	ExternalTransferRef string       `gorm:"type:varchar(128);index" json:"external_transfer_ref,omitempty"`
	FailureReason       string       `gorm:"type:varchar(256)" json:"failure_reason,omitempty"`
	SettledAt           *time.Time   `json:"settled_at,omitempty"`
	CreatedAt           time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PayoutRecord) TableName() string {
	return "payout_record"
}

// CheckoutEvent 已处理的购买会话，SessionID 即幂等键
type CheckoutEvent struct {
	SessionID      string         `gorm:"type:varchar(128);primaryKey" json:"session_id"`
	AccountID      string         `gorm:"type:varchar(128);index;not null" json:"account_id"`
	PlanID         string         `gorm:"type:varchar(128);not null" json:"plan_id"`
	CreditsGranted amount.Credits `gorm:"not null" json:"credits_granted"`
	ProcessedAt    time.Time      `gorm:"not null;index" json:"processed_at"`
}

func (CheckoutEvent) TableName() string {
	return "checkout_event"
}
