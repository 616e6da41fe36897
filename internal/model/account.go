package model

import (
	"time"

	"offerledger/pkg/amount"
)

// 收款账户状态
const (
	DestinationStatusNone              = "NONE"
	DestinationStatusPendingOnboarding = "PENDING_ONBOARDING"
	DestinationStatusActive            = "ACTIVE"
)

// 账户审核状态，PENDING 的账户不能提现
const (
	ReviewStatusNone     = ""
	ReviewStatusPending  = "PENDING"
	ReviewStatusApproved = "APPROVED"
)

// Account 用户账户表
// 一个账户同时持有两种余额：
//   - SpendableCredits: 购买得到的点数，用于解锁页面
//   - AccruedCash:      上传的 offer 被别人解锁后获得的现金分成
//
// InFlightCash 是提现中被冻结的现金，转账结果回调后结算或退回。
// 账户在首次登录时创建，不做物理删除。
type Account struct {
	ID                      string         `gorm:"type:varchar(128);primaryKey" json:"id"`
	SpendableCredits        amount.Credits `gorm:"not null;default:0" json:"spendable_credits"`
	AccruedCash             amount.Cents   `gorm:"not null;default:0" json:"accrued_cash"`
	InFlightCash            amount.Cents   `gorm:"not null;default:0" json:"in_flight_cash"`
	ExternalCustomerRef     string         `gorm:"type:varchar(128)" json:"external_customer_ref,omitempty"`
	PayoutDestinationRef    string         `gorm:"type:varchar(128)" json:"payout_destination_ref,omitempty"`
	PayoutDestinationStatus string         `gorm:"type:varchar(32);not null;default:NONE" json:"payout_destination_status"`
	ReviewStatus            string         `gorm:"type:varchar(20);not null;default:''" json:"review_status,omitempty"`
	Version                 int            `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt               time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
