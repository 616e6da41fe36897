package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/database/dbtest"
	"offerledger/internal/infrastructure/mq"
	"offerledger/internal/infrastructure/payment"
	"offerledger/internal/infrastructure/payment/paymenttest"
	"offerledger/internal/model"
	"offerledger/internal/repository"
	"offerledger/internal/service"
	"offerledger/pkg/amount"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{LedgerEvents: "test.ledger"}},
		Business: config.BusinessConfig{
			PageSize:              5,
			FirstPageMaxCharge:    5,
			AttributionShare:      "0.10",
			FirstVisitWindow:      time.Minute,
			MaxRetryCount:         2,
			PayoutCompensateAfter: time.Minute,
		},
	}
}

func TestOutboxSenderPublishesAndGivesUp(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.NewOutboxRepository(db)

	for _, key := range []string{"acct-1", "acct-2"} {
		if err := repo.Create(ctx, nil, &model.OutboxMessage{
			MessageKey: key,
			Topic:      "test.ledger",
			EventType:  model.EventPageUnlocked,
			Payload:    `{"account_id":"` + key + `"}`,
			Status:     model.OutboxStatusPending,
		}); err != nil {
			t.Fatal(err)
		}
	}

	mcfg := mocks.NewTestConfig()
	mcfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, mcfg)
	// 第一轮：acct-1 成功，acct-2 失败；第二轮 acct-2 再次失败后放弃
	sp.ExpectSendMessageAndSucceed()
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sender := NewOutboxSender(db, mq.NewProducerWith(sp), testConfig(), zap.NewNop())

	if sent := sender.RunOnce(ctx); sent != 1 {
		t.Fatalf("expected 1 sent in first round, got %d", sent)
	}
	if sent := sender.RunOnce(ctx); sent != 0 {
		t.Fatalf("expected 0 sent in second round, got %d", sent)
	}
	if sent := sender.RunOnce(ctx); sent != 0 {
		t.Fatalf("failed message must not be retried, got %d", sent)
	}

	var msgs []*model.OutboxMessage
	if err := db.Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatal(err)
	}
	if msgs[0].Status != model.OutboxStatusSent {
		t.Fatalf("expected first message sent, got %s", msgs[0].Status)
	}
	if msgs[1].Status != model.OutboxStatusFailed || msgs[1].RetryCount != 2 {
		t.Fatalf("expected second message failed after 2 tries, got %+v", msgs[1])
	}

	// 运维手动重新放回队列
	n, err := repo.Requeue(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("requeue: %d %v", n, err)
	}

	if err := sp.Close(); err != nil {
		t.Fatal(err)
	}
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(topic, key, value string) error {
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestOutboxSenderKeepsOrder(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.NewOutboxRepository(db)

	for i := 0; i < 3; i++ {
		if err := repo.Create(ctx, nil, &model.OutboxMessage{
			MessageKey: fmt.Sprintf("k%d", i),
			Topic:      "test.ledger",
			EventType:  model.EventCreditsGranted,
			Payload:    "{}",
			Status:     model.OutboxStatusPending,
		}); err != nil {
			t.Fatal(err)
		}
	}

	pub := &recordingPublisher{}
	sender := NewOutboxSender(db, pub, testConfig(), zap.NewNop())
	sender.RunOnce(ctx)

	if fmt.Sprint(pub.keys) != "[k0 k1 k2]" {
		t.Fatalf("unexpected publish order %v", pub.keys)
	}
}

func TestPayoutCompensateResumesAmbiguousTransfer(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	cfg := testConfig()
	processor := paymenttest.New()

	svc, err := service.NewServices(db, nil, processor, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Ledger.Account(ctx, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Ledger.CreditCash(ctx, nil, "owner", amount.Cents(60), "test"); err != nil {
		t.Fatal(err)
	}
	if err := repository.NewAccountRepository(db).SetPayoutDestination(ctx, "owner", "acct_owner", model.DestinationStatusActive); err != nil {
		t.Fatal(err)
	}
	processor.Activate("acct_owner")
	processor.TransferErr = fmt.Errorf("create transfer: %w", payment.ErrUnavailable)

	if _, err := svc.Payouts.RequestPayout(ctx, "owner"); err == nil {
		t.Fatal("expected the ambiguous transfer error to surface")
	}

	job := NewPayoutCompensateJob(db, svc.Payouts, cfg, zap.NewNop())

	// 还没到补偿时间
	if n := job.RunOnce(ctx); n != 0 {
		t.Fatalf("fresh payout must not be resumed, got %d", n)
	}

	if err := db.Model(&model.PayoutRecord{}).Where("account_id = ?", "owner").
		UpdateColumn("created_at", time.Now().Add(-10*time.Minute)).Error; err != nil {
		t.Fatal(err)
	}

	if n := job.RunOnce(ctx); n != 1 {
		t.Fatalf("expected 1 resumed payout, got %d", n)
	}
	if processor.TransferCount() != 1 {
		t.Fatalf("expected one transfer, got %d", processor.TransferCount())
	}

	// 已有转账号，等待结算回调，不再补偿
	if n := job.RunOnce(ctx); n != 0 {
		t.Fatalf("payout with a transfer ref must not be resumed, got %d", n)
	}
}
