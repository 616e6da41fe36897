package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 领域事件类型，写在出站消息的 event_type 字段
const (
	EventPageUnlocked       = "page.unlocked"
	EventCreditsGranted     = "credits.granted"
	EventRevenueDistributed = "revenue.distributed"
	EventPayoutRequested    = "payout.requested"
	EventPayoutSettled      = "payout.settled"
	EventContentModerated   = "content.moderated"
)

// OutboxMessage 出站消息表
// 与业务数据同一个事务写入，由 OutboxSender 异步投递到 Kafka。
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(128);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
