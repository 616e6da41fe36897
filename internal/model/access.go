package model

import (
	"time"

	"offerledger/pkg/amount"
)

// ViewGrant 页面解锁记录，(collection_key, page, viewer_id) 唯一
// 只在扣费成功时创建，永久有效。
type ViewGrant struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CollectionKey  string         `gorm:"type:varchar(128);not null;uniqueIndex:uk_grant" json:"collection_key"`
	Page           int            `gorm:"not null;uniqueIndex:uk_grant" json:"page"`
	ViewerID       string         `gorm:"type:varchar(128);not null;uniqueIndex:uk_grant" json:"viewer_id"`
	CreditsCharged amount.Credits `gorm:"not null" json:"credits_charged"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (ViewGrant) TableName() string {
	return "view_grant"
}

// CollectionVisit 浏览者对某个集合的访问状态
//   - Seed:       浏览者专属的排序种子，首次访问生成
//   - UnlockedAt: 首次付费解锁的时间，非空即表示再次访问免费
type CollectionVisit struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CollectionKey string     `gorm:"type:varchar(128);not null;uniqueIndex:uk_visit" json:"collection_key"`
	ViewerID      string     `gorm:"type:varchar(128);not null;uniqueIndex:uk_visit" json:"viewer_id"`
	Seed          string     `gorm:"type:varchar(64);not null" json:"seed"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CollectionVisit) TableName() string {
	return "collection_visit"
}

// AttributionRecord 一个浏览者只给一个上传者贡献一次分成
// (owner_id, viewer_id) 唯一，创建后不再修改。
type AttributionRecord struct {
	ID            int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID       string       `gorm:"type:varchar(128);not null;uniqueIndex:uk_attribution" json:"owner_id"`
	ViewerID      string       `gorm:"type:varchar(128);not null;uniqueIndex:uk_attribution" json:"viewer_id"`
	CollectionKey string       `gorm:"type:varchar(128);not null" json:"collection_key"`
	Page          int          `gorm:"not null" json:"page"`
	Amount        amount.Cents `gorm:"not null" json:"amount"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

func (AttributionRecord) TableName() string {
	return "attribution_record"
}
