package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ContentStatusUnset    = "" // 历史数据，无审核状态，视同可展示
	ContentStatusPending  = "PENDING"
	ContentStatusApproved = "APPROVED"
	ContentStatusRejected = "REJECTED"
)

// ContentItem 上传的 offer letter
// ExtractedFields 为识别服务给出的建议字段，未经校验，原样保存。
type ContentItem struct {
	ID              string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	OwnerID         string         `gorm:"type:varchar(128);index;not null" json:"owner_id"`
	CollectionKey   string         `gorm:"type:varchar(128);index;not null" json:"collection_key"`
	InstitutionName string         `gorm:"type:varchar(256)" json:"institution_name"`
	Status          string         `gorm:"type:varchar(20);index;not null;default:''" json:"status"`
	ExtractedFields datatypes.JSON `json:"extracted_fields,omitempty"`
	DocumentURL     string         `gorm:"type:varchar(512)" json:"document_url,omitempty"`
	ModeratedAt     *time.Time     `json:"moderated_at,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ContentItem) TableName() string {
	return "content_item"
}

// Servable 只有已通过或无状态的内容可以展示
func (c *ContentItem) Servable() bool {
	return c.Status == ContentStatusApproved || c.Status == ContentStatusUnset
}
