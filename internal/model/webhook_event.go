package model

import (
	"time"
)

// WebhookEvent 支付渠道回调日志
// 每个事件按 (provider, provider_event_id) 只记录一次，用于去重和排查。
type WebhookEvent struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider        string     `gorm:"type:varchar(32);not null;uniqueIndex:uk_provider_event" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(128);not null;uniqueIndex:uk_provider_event" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(64);index;not null" json:"event_type"`
	Payload         string     `gorm:"type:text" json:"payload"`
	SignatureValid  bool       `gorm:"not null" json:"signature_valid"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:varchar(512)" json:"processing_error,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_event"
}
