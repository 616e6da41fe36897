package service

import (
	"context"
	"errors"
	"fmt"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/metrics"
	"offerledger/internal/infrastructure/payment"
	"offerledger/internal/model"
	"offerledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const providerStripe = "stripe"

// ============================================================================
// 回调对账
// ============================================================================
//
// 渠道回调至少投递一次，可能乱序、可能重复：
//   - 事件按 provider_event_id 记录一次，处理成功过的直接跳过
//   - 购买到账以支付会话 ID 为幂等键
//   - 转账结算以提现单状态条件更新为准，只有第一次生效
//
// 返回错误时调用方应让渠道重试（IsPermanent 的除外）。
// ============================================================================

type Reconciler struct {
	db          *gorm.DB
	ledger      *LedgerService
	plans       *PlanTable
	accountRepo *repository.AccountRepository
	payoutRepo  *repository.PayoutRepository
	webhookRepo *repository.WebhookEventRepository
	events      *eventWriter
	log         *zap.Logger
}

func NewReconciler(db *gorm.DB, ledger *LedgerService, plans *PlanTable, cfg *config.Config, log *zap.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		ledger:      ledger,
		plans:       plans,
		accountRepo: repository.NewAccountRepository(db),
		payoutRepo:  repository.NewPayoutRepository(db),
		webhookRepo: repository.NewWebhookEventRepository(db),
		events:      newEventWriter(db, cfg.Kafka.Topic.LedgerEvents),
		log:         log.Named("reconciler"),
	}
}

// HandleEvent 记录并分发一个回调事件
func (r *Reconciler) HandleEvent(ctx context.Context, ev *payment.Event, signatureValid bool, raw []byte) error {
	stored, err := r.webhookRepo.Record(ctx, &model.WebhookEvent{
		Provider:        providerStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		Payload:         string(raw),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return fmt.Errorf("记录回调失败: %w", err)
	}
	if stored.ProcessedAt != nil {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
		r.log.Info("回调已处理，跳过", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		return nil
	}

	err = r.dispatch(ctx, ev)
	if err != nil {
		if markErr := r.webhookRepo.MarkError(ctx, stored.ID, err.Error()); markErr != nil {
			r.log.Error("记录回调处理错误失败", zap.String("event_id", ev.ID), zap.Error(markErr))
		}
		metrics.WebhookEvents.WithLabelValues(ev.Type, "error").Inc()
		r.log.Error("回调处理失败", zap.String("event_id", ev.ID), zap.String("type", ev.Type), zap.Error(err))
		return err
	}

	if err := r.webhookRepo.MarkProcessed(ctx, stored.ID); err != nil {
		// 业务已生效且自身幂等，重复投递不会有副作用
		r.log.Warn("标记回调已处理失败", zap.String("event_id", ev.ID), zap.Error(err))
	}
	metrics.WebhookEvents.WithLabelValues(ev.Type, "processed").Inc()
	return nil
}

func (r *Reconciler) dispatch(ctx context.Context, ev *payment.Event) error {
	switch {
	case ev.Checkout != nil:
		return r.HandleCheckoutCompleted(ctx, ev.Checkout)
	case ev.Transfer != nil:
		return r.HandleTransferSettled(ctx, ev.Transfer)
	case ev.Account != nil:
		return r.HandleAccountUpdated(ctx, ev.Account)
	default:
		r.log.Debug("忽略回调", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		return nil
	}
}

// HandleCheckoutCompleted 支付完成，按套餐发放点数
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, c *payment.CheckoutCompleted) error {
	if c.AccountID == "" || c.PlanID == "" {
		return ErrMissingMetadata
	}
	if !c.Paid() {
		r.log.Info("会话未付款，不发放点数", zap.String("session_id", c.SessionID), zap.String("payment_status", c.PaymentStatus))
		return nil
	}

	plan, err := r.plans.Lookup(c.PlanID)
	if err != nil {
		return err
	}

	_, err = r.ledger.GrantCredits(ctx, c.AccountID, plan.Credits, c.SessionID, plan.ID)
	if errors.Is(err, ErrAlreadyApplied) {
		return nil
	}
	return err
}

// HandleTransferSettled 转账结果回调
func (r *Reconciler) HandleTransferSettled(ctx context.Context, t *payment.TransferUpdate) error {
	rec, err := r.findPayout(ctx, t)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutNotFound) && t.PayoutID == "" {
			r.log.Info("未知转账，忽略", zap.String("transfer", t.TransferRef))
			return nil
		}
		return err
	}
	return r.settle(ctx, rec, t.TransferRef, t.Status, t.Reason)
}

func (r *Reconciler) findPayout(ctx context.Context, t *payment.TransferUpdate) (*model.PayoutRecord, error) {
	if t.TransferRef != "" {
		rec, err := r.payoutRepo.GetByTransferRef(ctx, nil, t.TransferRef)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrPayoutNotFound) {
			return nil, err
		}
	}
	if t.PayoutID == "" {
		return nil, repository.ErrPayoutNotFound
	}
	return r.payoutRepo.GetByID(ctx, nil, t.PayoutID)
}

func (r *Reconciler) settle(ctx context.Context, rec *model.PayoutRecord, transferRef, status, reason string) error {
	target := model.PayoutStatusPaid
	if status == payment.TransferFailed {
		target = model.PayoutStatusFailed
		if reason == "" {
			reason = "transfer_failed"
		}
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := r.payoutRepo.Transition(ctx, tx, rec.ID, target, reason)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true

		if transferRef != "" {
			if err := r.payoutRepo.SetTransferRef(ctx, tx, rec.ID, transferRef); err != nil {
				return err
			}
		}

		ref := "payout:" + rec.ID
		if target == model.PayoutStatusPaid {
			err = r.ledger.SettleCashHold(ctx, tx, rec.AccountID, rec.Amount, ref)
		} else {
			err = r.ledger.ReleaseCashHold(ctx, tx, rec.AccountID, rec.Amount, ref)
		}
		if err != nil {
			return err
		}

		return r.events.write(ctx, tx, model.EventPayoutSettled, rec.AccountID, map[string]interface{}{
			"payout_id":  rec.ID,
			"account_id": rec.AccountID,
			"amount":     rec.Amount,
			"status":     target,
			"reason":     reason,
			"transfer":   transferRef,
		})
	})
	if err != nil {
		return err
	}

	if applied {
		metrics.Payouts.WithLabelValues("settled_" + status).Inc()
		r.log.Info("提现已结算",
			zap.String("payout_id", rec.ID),
			zap.String("account_id", rec.AccountID),
			zap.String("status", target),
			zap.Stringer("amount", rec.Amount),
		)
	}
	return nil
}

// SettleTransfer 运维手工结算，按转账号或提现单 ID 查找
func (r *Reconciler) SettleTransfer(ctx context.Context, ref, status string) error {
	if status != payment.TransferPaid && status != payment.TransferFailed {
		return fmt.Errorf("%w: status 只能是 paid 或 failed", ErrInvalidInput)
	}
	rec, err := r.payoutRepo.GetByTransferRef(ctx, nil, ref)
	if errors.Is(err, repository.ErrPayoutNotFound) {
		rec, err = r.payoutRepo.GetByID(ctx, nil, ref)
	}
	if err != nil {
		return err
	}
	transferRef := rec.ExternalTransferRef
	if transferRef == "" && ref != rec.ID {
		transferRef = ref
	}
	return r.settle(ctx, rec, transferRef, status, "manual")
}

// HandleAccountUpdated 收款账户开户完成或被限制
func (r *Reconciler) HandleAccountUpdated(ctx context.Context, a *payment.AccountUpdate) error {
	account, err := r.accountRepo.GetByDestinationRef(ctx, a.DestinationRef)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			r.log.Info("未知收款账户，忽略", zap.String("destination", a.DestinationRef))
			return nil
		}
		return err
	}

	next := account.PayoutDestinationStatus
	switch {
	case a.TransfersActive:
		next = model.DestinationStatusActive
	case account.PayoutDestinationStatus == model.DestinationStatusActive:
		next = model.DestinationStatusPendingOnboarding
	}
	if next == account.PayoutDestinationStatus {
		return nil
	}

	if err := r.accountRepo.SetDestinationStatus(ctx, nil, account.ID, next); err != nil {
		return err
	}
	r.log.Info("收款账户状态变更",
		zap.String("account_id", account.ID),
		zap.String("from", account.PayoutDestinationStatus),
		zap.String("to", next),
	)
	return nil
}
