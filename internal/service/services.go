package service

import (
	"offerledger/internal/config"
	"offerledger/internal/infrastructure/payment"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 进程内共享的服务实例
type Services struct {
	Plans       *PlanTable
	Ledger      *LedgerService
	Content     *ContentService
	Gate        *AccessGate
	Distributor *RevenueDistributor
	Pages       *PageAccessService
	Checkout    *CheckoutService
	Reconciler  *Reconciler
	Payouts     *PayoutService
}

// NewServices rdb 可以为 nil，此时并发控制只依赖数据库约束
func NewServices(db *gorm.DB, rdb redis.Cmdable, processor payment.Processor, cfg *config.Config, log *zap.Logger) (*Services, error) {
	plans := NewPlanTable(cfg.Plans)
	ledger := NewLedgerService(db, cfg, log)
	content := NewContentService(db, cfg, log)
	gate := NewAccessGate(db, ledger, cfg, log)

	distributor, err := NewRevenueDistributor(db, ledger, NewAttributionTracker(db), cfg, log)
	if err != nil {
		return nil, err
	}

	return &Services{
		Plans:       plans,
		Ledger:      ledger,
		Content:     content,
		Gate:        gate,
		Distributor: distributor,
		Pages:       NewPageAccessService(ledger, content, gate, distributor, rdb, cfg, log),
		Checkout:    NewCheckoutService(db, processor, plans, ledger, log),
		Reconciler:  NewReconciler(db, ledger, plans, cfg, log),
		Payouts:     NewPayoutService(db, rdb, processor, ledger, cfg, log),
	}, nil
}
