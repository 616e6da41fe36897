package model

import (
	"time"
)

// ============================================================================
// 账本流水
// ============================================================================

// 余额种类
const (
	BalanceCredits  = "CREDITS"
	BalanceCash     = "CASH"
	BalanceInFlight = "IN_FLIGHT"
)

// 流水类型
const (
	EntryTypeCreditGrant   = "CREDIT_GRANT"   // 购买点数入账
	EntryTypePageCharge    = "PAGE_CHARGE"    // 解锁页面扣点
	EntryTypeAttribution   = "ATTRIBUTION"    // 归因分成入账
	EntryTypePayoutHold    = "PAYOUT_HOLD"    // 提现冻结
	EntryTypePayoutRelease = "PAYOUT_RELEASE" // 提现失败退回
	EntryTypePayoutSettle  = "PAYOUT_SETTLE"  // 提现完成
)

// LedgerEntry 账本流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. 每笔流水关联业务引用（页面 / 会话 / 提现单）
// 3. 记录变动前后余额，便于核对
//
// Amount / Before / After 的单位由 Balance 决定：CREDITS 为 1/100 点，其余为分。
type LedgerEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	AccountID string    `gorm:"type:varchar(128);index;not null" json:"account_id"`
	Balance   string    `gorm:"type:varchar(16);not null" json:"balance"`
	Type      string    `gorm:"type:varchar(32);not null" json:"type"`
	Amount    int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Before    int64     `gorm:"not null" json:"before"`
	After     int64     `gorm:"not null" json:"after"`
	Reference string    `gorm:"type:varchar(256);index" json:"reference"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
