package service

import (
	"context"
	"strings"
	"time"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/lock"
	"offerledger/internal/infrastructure/metrics"
	"offerledger/internal/model"
	"offerledger/pkg/amount"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PageAccessRequest struct {
	ViewerID      string
	CollectionKey string
	Page          int
}

type PageAccessResult struct {
	Granted        bool                 `json:"granted"`
	Reason         string               `json:"reason"`
	CreditsCharged amount.Credits       `json:"credits_charged"`
	BalanceAfter   amount.Credits       `json:"balance_after"`
	Required       amount.Credits       `json:"required,omitempty"`
	Page           int                  `json:"page"`
	TotalPages     int                  `json:"total_pages"`
	TotalItems     int                  `json:"total_items"`
	Items          []*model.ContentItem `json:"items,omitempty"`
	Distribution   *DistributionReport  `json:"distribution,omitempty"`
}

// PageAccessService 页面访问入口：加租约 -> 判定/扣费 -> 分成
type PageAccessService struct {
	ledger      *LedgerService
	content     *ContentService
	gate        *AccessGate
	distributor *RevenueDistributor
	rdb         redis.Cmdable
	lockTTL     time.Duration
	log         *zap.Logger
}

// NewPageAccessService rdb 为 nil 时不加租约，只依赖数据库唯一键
func NewPageAccessService(ledger *LedgerService, content *ContentService, gate *AccessGate, distributor *RevenueDistributor, rdb redis.Cmdable, cfg *config.Config, log *zap.Logger) *PageAccessService {
	ttl := cfg.Business.UnlockLockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PageAccessService{
		ledger:      ledger,
		content:     content,
		gate:        gate,
		distributor: distributor,
		rdb:         rdb,
		lockTTL:     ttl,
		log:         log.Named("page_access"),
	}
}

// RequestPageAccess 调用方应使用与客户端连接解绑的 ctx，
// 保证扣费和分成在客户端断开后仍能完成
func (s *PageAccessService) RequestPageAccess(ctx context.Context, req PageAccessRequest) (*PageAccessResult, error) {
	req.CollectionKey = strings.TrimSpace(req.CollectionKey)
	if req.ViewerID == "" || req.CollectionKey == "" {
		return nil, ErrInvalidInput
	}
	if req.Page < 1 {
		return nil, ErrInvalidPage
	}

	if _, err := s.ledger.Account(ctx, req.ViewerID); err != nil {
		return nil, err
	}

	view, err := s.content.LoadPage(ctx, req.CollectionKey, req.ViewerID, req.Page)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		lease := lock.NewUnlockLock(s.rdb, req.CollectionKey, req.Page, req.ViewerID, uuid.NewString(), s.lockTTL)
		ok, err := lease.TryLock(ctx)
		switch {
		case err != nil:
			// Redis 不可用时降级，唯一键仍然保证只扣一次
			s.log.Warn("获取解锁租约失败，降级为数据库约束", zap.String("key", lease.Key()), zap.Error(err))
		case !ok:
			metrics.PageUnlocks.WithLabelValues("in_progress").Inc()
			return nil, ErrUnlockInProgress
		default:
			defer func() {
				if err := lease.Unlock(context.Background()); err != nil {
					s.log.Warn("释放解锁租约失败", zap.String("key", lease.Key()), zap.Error(err))
				}
			}()
		}
	}

	decision, err := s.gate.ResolveAccess(ctx, PageRequest{
		ViewerID:      req.ViewerID,
		CollectionKey: req.CollectionKey,
		Page:          req.Page,
		ItemsOnPage:   len(view.Items),
		TotalItems:    view.TotalItems,
		Seed:          view.Seed,
	})
	if err != nil {
		return nil, err
	}

	result := &PageAccessResult{
		Granted:        decision.Granted,
		Reason:         decision.Reason,
		CreditsCharged: decision.CreditsCharged,
		BalanceAfter:   decision.BalanceAfter,
		Required:       decision.Required,
		Page:           req.Page,
		TotalPages:     view.TotalPages,
		TotalItems:     view.TotalItems,
	}
	if !decision.Granted {
		return result, nil
	}

	result.Items = view.Items
	if decision.Reason == ReasonCharged {
		result.Distribution = s.distributor.Distribute(ctx, req.ViewerID, req.CollectionKey, req.Page, view.Items)
	}
	return result, nil
}
