package repository

import (
	"context"
	"time"

	"offerledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record 记录事件，已存在时返回已有记录
func (r *WebhookEventRepository) Record(ctx context.Context, ev *model.WebhookEvent) (*model.WebhookEvent, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ev).Error
	if err != nil {
		return nil, err
	}

	var stored model.WebhookEvent
	err = r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", ev.Provider, ev.ProviderEventID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": "",
		}).Error
}

func (r *WebhookEventRepository) MarkError(ctx context.Context, id int64, msg string) error {
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Update("processing_error", msg).Error
}
