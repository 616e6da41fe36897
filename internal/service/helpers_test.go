package service

import (
	"context"
	"testing"
	"time"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/database/dbtest"
	"offerledger/internal/infrastructure/payment/paymenttest"
	"offerledger/internal/model"
	"offerledger/internal/repository"
	"offerledger/pkg/amount"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testPlanSmall = "price_small"
	testPlanLarge = "price_large"
)

func testConfig() *config.Config {
	return &config.Config{
		Kafka:  config.KafkaConfig{Topic: config.KafkaTopicConfig{LedgerEvents: "test.ledger"}},
		Stripe: config.StripeConfig{Currency: "usd"},
		Business: config.BusinessConfig{
			PageSize:              5,
			FirstPageMaxCharge:    5,
			AttributionShare:      "0.10",
			UnlockLockTTL:         5 * time.Second,
			FirstVisitWindow:      time.Minute,
			MaxRetryCount:         3,
			PayoutCompensateAfter: time.Minute,
		},
		Plans: []config.PlanConfig{
			{ID: testPlanSmall, Name: "Starter Pack", Credits: 50},
			{ID: testPlanLarge, Name: "Standard Pack", Credits: 100},
		},
	}
}

type testEnv struct {
	t           *testing.T
	ctx         context.Context
	cfg         *config.Config
	db          *gorm.DB
	rdb         *redis.Client
	mr          *miniredis.Miniredis
	processor   *paymenttest.Fake
	plans       *PlanTable
	ledger      *LedgerService
	content     *ContentService
	gate        *AccessGate
	distributor *RevenueDistributor
	pages       *PageAccessService
	checkout    *CheckoutService
	reconciler  *Reconciler
	payouts     *PayoutService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testConfig()
	db := dbtest.Open(t)
	log := zap.NewNop()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	processor := paymenttest.New()
	svc, err := NewServices(db, rdb, processor, cfg, log)
	if err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		t:           t,
		ctx:         context.Background(),
		cfg:         cfg,
		db:          db,
		rdb:         rdb,
		mr:          mr,
		processor:   processor,
		plans:       svc.Plans,
		ledger:      svc.Ledger,
		content:     svc.Content,
		gate:        svc.Gate,
		distributor: svc.Distributor,
		pages:       svc.Pages,
		checkout:    svc.Checkout,
		reconciler:  svc.Reconciler,
		payouts:     svc.Payouts,
	}
}

// seedItems 在集合里放入 n 条已通过的内容，上传者按 owners 轮流分配
func (e *testEnv) seedItems(collectionKey string, n int, owners ...string) []*model.ContentItem {
	e.t.Helper()
	repo := repository.NewContentRepository(e.db)
	items := make([]*model.ContentItem, 0, n)
	for i := 0; i < n; i++ {
		item := &model.ContentItem{
			ID:              collectionKey + "-" + string(rune('a'+i)),
			OwnerID:         owners[i%len(owners)],
			CollectionKey:   collectionKey,
			InstitutionName: collectionKey,
			Status:          model.ContentStatusApproved,
		}
		if err := repo.Create(e.ctx, item); err != nil {
			e.t.Fatal(err)
		}
		items = append(items, item)
	}
	return items
}

func (e *testEnv) fund(accountID string, credits int64) {
	e.t.Helper()
	if _, err := e.ledger.Account(e.ctx, accountID); err != nil {
		e.t.Fatal(err)
	}
	if err := repository.NewAccountRepository(e.db).IncreaseCredits(e.ctx, nil, accountID, amount.WholeCredits(credits)); err != nil {
		e.t.Fatal(err)
	}
}

func (e *testEnv) giveCash(accountID string, cents int64) {
	e.t.Helper()
	if _, err := e.ledger.Account(e.ctx, accountID); err != nil {
		e.t.Fatal(err)
	}
	if _, err := e.ledger.CreditCash(e.ctx, nil, accountID, amount.Cents(cents), "test"); err != nil {
		e.t.Fatal(err)
	}
}

func (e *testEnv) account(accountID string) *model.Account {
	e.t.Helper()
	a, err := repository.NewAccountRepository(e.db).GetByID(e.ctx, nil, accountID)
	if err != nil {
		e.t.Fatal(err)
	}
	return a
}

func (e *testEnv) outboxCount(eventType string) int64 {
	e.t.Helper()
	var n int64
	if err := e.db.Model(&model.OutboxMessage{}).Where("event_type = ?", eventType).Count(&n).Error; err != nil {
		e.t.Fatal(err)
	}
	return n
}
