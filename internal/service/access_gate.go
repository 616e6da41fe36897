package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/metrics"
	"offerledger/internal/model"
	"offerledger/internal/repository"
	"offerledger/pkg/amount"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 访问判定原因
const (
	ReasonFreeReturnVisit     = "FREE_RETURN_VISIT"
	ReasonAlreadyPaidPage     = "ALREADY_PAID_PAGE"
	ReasonCharged             = "CHARGED"
	ReasonInsufficientCredits = "INSUFFICIENT_CREDITS"
)

var errGrantExists = errors.New("页面已解锁")

// PageRequest 一次页面访问
type PageRequest struct {
	ViewerID      string
	CollectionKey string
	Page          int
	ItemsOnPage   int
	TotalItems    int
	Seed          string
}

// AccessDecision 访问判定结果
// Granted 为 false 时只有 Required / Balance 有意义，调用方不得返回内容
type AccessDecision struct {
	Granted        bool           `json:"granted"`
	Reason         string         `json:"reason"`
	CreditsCharged amount.Credits `json:"credits_charged"`
	BalanceAfter   amount.Credits `json:"balance_after"`
	Required       amount.Credits `json:"required,omitempty"`
}

// ChargeForPage 第一页收 min(首页上限, 总条数)，之后每页按本页条数收
func ChargeForPage(page, itemsOnPage, totalItems, firstPageMax int) amount.Credits {
	if page == 1 {
		n := totalItems
		if n > firstPageMax {
			n = firstPageMax
		}
		return amount.WholeCredits(int64(n))
	}
	return amount.WholeCredits(int64(itemsOnPage))
}

// AccessGate 决定一次页面访问是否放行、是否扣费
type AccessGate struct {
	db                 *gorm.DB
	ledger             *LedgerService
	accessRepo         *repository.AccessRepository
	events             *eventWriter
	firstPageMaxCharge int
	firstVisitWindow   time.Duration
	log                *zap.Logger
}

func NewAccessGate(db *gorm.DB, ledger *LedgerService, cfg *config.Config, log *zap.Logger) *AccessGate {
	return &AccessGate{
		db:                 db,
		ledger:             ledger,
		accessRepo:         repository.NewAccessRepository(db),
		events:             newEventWriter(db, cfg.Kafka.Topic.LedgerEvents),
		firstPageMaxCharge: cfg.Business.FirstPageMaxCharge,
		firstVisitWindow:   cfg.Business.FirstVisitWindow,
		log:                log.Named("gate"),
	}
}

// ResolveAccess
//  1. 该集合在首次访问窗口之前已付费解锁 -> 免费
//  2. 该页已付费 -> 免费
//  3. 扣费；同一事务内写入页面解锁记录、集合解锁标记和事件
//
// 余额不足返回 Granted=false，不返回错误
func (g *AccessGate) ResolveAccess(ctx context.Context, req PageRequest) (*AccessDecision, error) {
	visit, err := g.accessRepo.GetVisit(ctx, nil, req.CollectionKey, req.ViewerID)
	if err != nil {
		return nil, fmt.Errorf("读取访问记录失败: %w", err)
	}
	if g.returnVisitor(visit, time.Now()) {
		return g.free(ctx, req, ReasonFreeReturnVisit)
	}

	paid, err := g.accessRepo.HasGrant(ctx, nil, req.CollectionKey, req.Page, req.ViewerID)
	if err != nil {
		return nil, fmt.Errorf("读取页面解锁记录失败: %w", err)
	}
	if paid {
		return g.free(ctx, req, ReasonAlreadyPaidPage)
	}

	charge := ChargeForPage(req.Page, req.ItemsOnPage, req.TotalItems, g.firstPageMaxCharge)
	ref := fmt.Sprintf("page:%s:%d:%s", req.CollectionKey, req.Page, req.ViewerID)

	var balanceAfter amount.Credits
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := g.accessRepo.CreateGrant(ctx, tx, &model.ViewGrant{
			CollectionKey:  req.CollectionKey,
			Page:           req.Page,
			ViewerID:       req.ViewerID,
			CreditsCharged: charge,
		})
		if err != nil {
			return fmt.Errorf("写入页面解锁记录失败: %w", err)
		}
		if !created {
			return errGrantExists
		}

		balanceAfter, err = g.ledger.Debit(ctx, tx, req.ViewerID, charge, ref)
		if err != nil {
			return err
		}

		if err := g.accessRepo.MarkUnlocked(ctx, tx, req.CollectionKey, req.ViewerID, req.Seed); err != nil {
			return fmt.Errorf("标记集合解锁失败: %w", err)
		}

		return g.events.write(ctx, tx, model.EventPageUnlocked, req.ViewerID, map[string]interface{}{
			"viewer_id":       req.ViewerID,
			"collection_key":  req.CollectionKey,
			"page":            req.Page,
			"credits_charged": charge,
			"balance_after":   balanceAfter,
		})
	})

	var insufficient *InsufficientCreditsError
	switch {
	case err == nil:
	case errors.Is(err, errGrantExists):
		return g.free(ctx, req, ReasonAlreadyPaidPage)
	case errors.As(err, &insufficient):
		metrics.PageUnlocks.WithLabelValues("insufficient_credits").Inc()
		return &AccessDecision{
			Granted:      false,
			Reason:       ReasonInsufficientCredits,
			Required:     insufficient.Required,
			BalanceAfter: insufficient.Balance,
		}, nil
	default:
		return nil, err
	}

	metrics.PageUnlocks.WithLabelValues("charged").Inc()
	metrics.CreditsCharged.Add(float64(charge))
	g.log.Info("页面解锁扣费",
		zap.String("viewer_id", req.ViewerID),
		zap.String("collection_key", req.CollectionKey),
		zap.Int("page", req.Page),
		zap.Stringer("charged", charge),
		zap.Stringer("balance_after", balanceAfter),
	)
	return &AccessDecision{
		Granted:        true,
		Reason:         ReasonCharged,
		CreditsCharged: charge,
		BalanceAfter:   balanceAfter,
	}, nil
}

// returnVisitor 首次解锁所在的那次访问内仍逐页收费
func (g *AccessGate) returnVisitor(visit *model.CollectionVisit, now time.Time) bool {
	if visit == nil || visit.UnlockedAt == nil {
		return false
	}
	return now.Sub(*visit.UnlockedAt) >= g.firstVisitWindow
}

func (g *AccessGate) free(ctx context.Context, req PageRequest, reason string) (*AccessDecision, error) {
	account, err := g.ledger.Account(ctx, req.ViewerID)
	if err != nil {
		return nil, err
	}
	if reason == ReasonFreeReturnVisit {
		metrics.PageUnlocks.WithLabelValues("free_return_visit").Inc()
	} else {
		metrics.PageUnlocks.WithLabelValues("already_paid").Inc()
	}
	return &AccessDecision{
		Granted:      true,
		Reason:       reason,
		BalanceAfter: account.SpendableCredits,
	}, nil
}
