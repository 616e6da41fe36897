package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/metrics"
	"offerledger/internal/model"
	"offerledger/internal/repository"
	"offerledger/pkg/amount"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AttributionTracker 记录某个浏览者是否已经给某个上传者贡献过分成
type AttributionTracker struct {
	repo *repository.AttributionRepository
}

func NewAttributionTracker(db *gorm.DB) *AttributionTracker {
	return &AttributionTracker{repo: repository.NewAttributionRepository(db)}
}

func (t *AttributionTracker) HasCredited(ctx context.Context, ownerID, viewerID string) (bool, error) {
	return t.repo.Exists(ctx, ownerID, viewerID)
}

// MarkCredited 不存在才插入，返回 false 表示已有记录
func (t *AttributionTracker) MarkCredited(ctx context.Context, tx *gorm.DB, rec *model.AttributionRecord) (bool, error) {
	return t.repo.CreateIfAbsent(ctx, tx, rec)
}

// DistributionReport 一次分成的结果
type DistributionReport struct {
	ShareEach       amount.Cents `json:"share_each"`
	Credited        []string     `json:"credited"`
	AlreadyCredited []string     `json:"already_credited,omitempty"`
	RaceLost        []string     `json:"race_lost,omitempty"`
	Failed          []string     `json:"failed,omitempty"`
	SkippedSelf     int          `json:"skipped_self,omitempty"`
	SkippedInvalid  int          `json:"skipped_invalid,omitempty"`
}

// RevenueDistributor 页面扣费成功后给页面上的上传者分成
//
// 规则：
//   - 同一上传者在一页上出现多次只算一次
//   - 浏览者自己的内容不分成
//   - 每个 (上传者, 浏览者) 组合终身只分一次
//
// 每个上传者一个事务：插入归因记录 + 增加现金。单个上传者失败不影响其他人，
// 也不会回滚浏览者的扣费。
type RevenueDistributor struct {
	db      *gorm.DB
	ledger  *LedgerService
	tracker *AttributionTracker
	events  *eventWriter
	share   amount.Cents
	log     *zap.Logger
}

func NewRevenueDistributor(db *gorm.DB, ledger *LedgerService, tracker *AttributionTracker, cfg *config.Config, log *zap.Logger) (*RevenueDistributor, error) {
	share, err := cfg.Business.ShareCents()
	if err != nil {
		return nil, fmt.Errorf("分成金额配置无效: %w", err)
	}
	return &RevenueDistributor{
		db:      db,
		ledger:  ledger,
		tracker: tracker,
		events:  newEventWriter(db, cfg.Kafka.Topic.LedgerEvents),
		share:   share,
		log:     log.Named("distributor"),
	}, nil
}

// Distribute 对一页内容的上传者分成
func (d *RevenueDistributor) Distribute(ctx context.Context, viewerID, collectionKey string, page int, items []*model.ContentItem) *DistributionReport {
	report := &DistributionReport{ShareEach: d.share, Credited: []string{}}

	seen := make(map[string]bool, len(items))
	var owners []string
	for _, item := range items {
		if item == nil || item.OwnerID == "" || !item.Servable() {
			report.SkippedInvalid++
			continue
		}
		if item.OwnerID == viewerID {
			report.SkippedSelf++
			continue
		}
		if seen[item.OwnerID] {
			continue
		}
		seen[item.OwnerID] = true
		owners = append(owners, item.OwnerID)
	}
	sort.Strings(owners)

	for _, ownerID := range owners {
		credited, err := d.tracker.HasCredited(ctx, ownerID, viewerID)
		if err != nil {
			d.log.Error("查询归因记录失败", zap.String("owner_id", ownerID), zap.String("viewer_id", viewerID), zap.Error(err))
			report.Failed = append(report.Failed, ownerID)
			metrics.Attributions.WithLabelValues("failed").Inc()
			continue
		}
		if credited {
			report.AlreadyCredited = append(report.AlreadyCredited, ownerID)
			metrics.Attributions.WithLabelValues("already_credited").Inc()
			continue
		}

		err = d.creditOwner(ctx, ownerID, viewerID, collectionKey, page)
		switch {
		case err == nil:
			report.Credited = append(report.Credited, ownerID)
			metrics.Attributions.WithLabelValues("credited").Inc()
		case errors.Is(err, ErrAttributionRaceLost):
			d.log.Debug("归因记录已被并发写入，跳过", zap.String("owner_id", ownerID), zap.String("viewer_id", viewerID))
			report.RaceLost = append(report.RaceLost, ownerID)
			metrics.Attributions.WithLabelValues("race_lost").Inc()
		default:
			d.log.Error("分成失败",
				zap.String("owner_id", ownerID),
				zap.String("viewer_id", viewerID),
				zap.String("collection_key", collectionKey),
				zap.Int("page", page),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, ownerID)
			metrics.Attributions.WithLabelValues("failed").Inc()
		}
	}

	if len(report.Credited) > 0 || len(report.Failed) > 0 {
		d.log.Info("分成完成",
			zap.String("viewer_id", viewerID),
			zap.String("collection_key", collectionKey),
			zap.Int("page", page),
			zap.Int("credited", len(report.Credited)),
			zap.Int("failed", len(report.Failed)),
		)
	}
	return report
}

func (d *RevenueDistributor) creditOwner(ctx context.Context, ownerID, viewerID, collectionKey string, page int) error {
	ref := fmt.Sprintf("attribution:%s:%s", ownerID, viewerID)

	// 上传者可能从未登录过
	if _, err := d.ledger.Account(ctx, ownerID); err != nil {
		return err
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := d.tracker.MarkCredited(ctx, tx, &model.AttributionRecord{
			OwnerID:       ownerID,
			ViewerID:      viewerID,
			CollectionKey: collectionKey,
			Page:          page,
			Amount:        d.share,
		})
		if err != nil {
			return fmt.Errorf("写入归因记录失败: %w", err)
		}
		if !created {
			return ErrAttributionRaceLost
		}

		cashAfter, err := d.ledger.CreditCash(ctx, tx, ownerID, d.share, ref)
		if err != nil {
			return err
		}

		return d.events.write(ctx, tx, model.EventRevenueDistributed, ownerID, map[string]interface{}{
			"owner_id":       ownerID,
			"viewer_id":      viewerID,
			"collection_key": collectionKey,
			"page":           page,
			"amount":         d.share,
			"cash_after":     cashAfter,
		})
	})
}
