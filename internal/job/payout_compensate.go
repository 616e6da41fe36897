package job

import (
	"context"
	"time"

	"offerledger/internal/config"
	"offerledger/internal/repository"
	"offerledger/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PayoutCompensateJob 补偿长时间 PENDING 且没有转账号的提现单
// 这类提现单是调用渠道时结果不明确留下的，用提现单 ID 作为幂等键重新发起，渠道不会重复转账。
type PayoutCompensateJob struct {
	payoutRepo *repository.PayoutRepository
	payouts    *service.PayoutService
	after      time.Duration
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewPayoutCompensateJob(db *gorm.DB, payouts *service.PayoutService, cfg *config.Config, log *zap.Logger) *PayoutCompensateJob {
	after := cfg.Business.PayoutCompensateAfter
	if after <= 0 {
		after = 5 * time.Minute
	}
	return &PayoutCompensateJob{
		payoutRepo: repository.NewPayoutRepository(db),
		payouts:    payouts,
		after:      after,
		log:        log.Named("payout_compensate"),
		stopCh:     make(chan struct{}),
		interval:   30 * time.Second,
		batchSize:  50,
	}
}

func (j *PayoutCompensateJob) Start(ctx context.Context) {
	j.log.Info("提现补偿任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *PayoutCompensateJob) Stop() {
	close(j.stopCh)
}

// RunOnce 处理一批卡住的提现单，返回重新发起的数量
func (j *PayoutCompensateJob) RunOnce(ctx context.Context) int {
	recs, err := j.payoutRepo.ListStuck(ctx, time.Now().Add(-j.after), j.batchSize)
	if err != nil {
		j.log.Error("查询提现单失败", zap.Error(err))
		return 0
	}
	if len(recs) == 0 {
		return 0
	}

	j.log.Info("发现需要补偿的提现单", zap.Int("count", len(recs)))

	resumed := 0
	for _, rec := range recs {
		if err := j.payouts.ResumeTransfer(ctx, rec); err != nil {
			j.log.Warn("补偿提现失败，下一轮重试", zap.String("payout_id", rec.ID), zap.String("account_id", rec.AccountID), zap.Error(err))
			continue
		}
		resumed++
	}
	return resumed
}
