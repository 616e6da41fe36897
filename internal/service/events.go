package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"offerledger/internal/model"
	"offerledger/internal/repository"
	"offerledger/pkg/idgen"

	"gorm.io/gorm"
)

// eventWriter 领域事件写入出站表，和业务数据同一个事务
type eventWriter struct {
	outboxRepo *repository.OutboxRepository
	topic      string
}

func newEventWriter(db *gorm.DB, topic string) *eventWriter {
	return &eventWriter{
		outboxRepo: repository.NewOutboxRepository(db),
		topic:      topic,
	}
}

type envelope struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	OccurredAt string      `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// write key 决定 Kafka 分区，一般用账户 ID
func (w *eventWriter) write(ctx context.Context, tx *gorm.DB, eventType, key string, data interface{}) error {
	payload, err := json.Marshal(envelope{
		EventID:    idgen.GenerateEventKey(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      w.topic,
		EventType:  eventType,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := w.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入出站消息失败: %w", err)
	}
	return nil
}
