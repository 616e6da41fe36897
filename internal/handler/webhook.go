package handler

import (
	"errors"
	"io"
	"net/http"

	"offerledger/internal/infrastructure/logger"
	"offerledger/internal/infrastructure/metrics"
	"offerledger/internal/infrastructure/payment"
	"offerledger/internal/service"
	"offerledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// StripeWebhook 支付渠道回调
// POST /webhooks/stripe
//
// 返回非 2xx 时渠道会重试：签名错误和永久性业务错误返回 400，其余返回 500
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeParamError, "读取回调内容失败")
		return
	}

	ev, verified, err := h.parseWebhook(c, payload)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeParamError, err.Error())
		return
	}

	if err := h.svc.Reconciler.HandleEvent(detached(c), ev, verified, payload); err != nil {
		if service.IsPermanent(err) {
			response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeBusinessError, err.Error())
			return
		}
		response.ErrorWithStatus(c, http.StatusInternalServerError, response.CodeServerError, "回调处理失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// parseWebhook 校验签名；只有显式打开 allow_unverified_webhooks 才处理未校验的事件
func (h *Handler) parseWebhook(c *gin.Context, payload []byte) (*payment.Event, bool, error) {
	secret := h.cfg.Stripe.WebhookSecret

	var verifyErr error
	if secret == "" {
		verifyErr = errors.New("webhook secret 未配置")
	} else {
		ev, err := payment.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), secret)
		if err == nil {
			return ev, true, nil
		}
		if !errors.Is(err, payment.ErrInvalidSignature) {
			return nil, false, err
		}
		verifyErr = err
	}

	metrics.SignatureFailures.Inc()
	if !h.cfg.Stripe.AllowUnverifiedWebhooks {
		h.log.Warn("回调签名校验失败，已拒绝", logger.SecurityEvent(), zap.String("ip", c.ClientIP()), zap.Error(verifyErr))
		return nil, false, service.ErrSignatureVerification
	}

	h.log.Warn("回调签名校验失败，按开发模式继续处理", logger.SecurityEvent(), zap.String("ip", c.ClientIP()), zap.Error(verifyErr))
	ev, err := payment.DecodeUnverified(payload)
	if err != nil {
		return nil, false, err
	}
	return ev, false, nil
}
