package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"offerledger/internal/config"
	"offerledger/internal/repository"
	"offerledger/internal/service"
	"offerledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	svc *service.Services
	cfg *config.Config
	log *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(svc *service.Services, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{svc: svc, cfg: cfg, log: log.Named("http")}
}

// detached 扣费、分成、提现一旦开始就要做完，不跟随客户端断开而取消
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// writeError 业务错误映射为错误码，未知错误只记日志不外泄
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrInvalidPage):
		response.BusinessError(c, response.CodeInvalidPage, err.Error())
	case errors.Is(err, service.ErrCollectionNotFound):
		response.BusinessError(c, response.CodeCollectionNotFound, err.Error())
	case errors.Is(err, service.ErrUnlockInProgress), errors.Is(err, service.ErrPayoutInProgress):
		response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
	case errors.Is(err, service.ErrUnknownPlan):
		response.BusinessError(c, response.CodeUnknownPlan, err.Error())
	case errors.Is(err, service.ErrSessionNotOwned):
		response.BusinessError(c, response.CodeSessionNotOwned, err.Error())
	case errors.Is(err, service.ErrNoPayoutAccount):
		response.BusinessError(c, response.CodeNoPayoutAccount, err.Error())
	case errors.Is(err, service.ErrPayoutRejected):
		response.BusinessError(c, response.CodePayoutRejected, err.Error())
	case errors.Is(err, service.ErrItemImmutable):
		response.BusinessError(c, response.CodeItemImmutable, err.Error())
	case errors.Is(err, service.ErrInvalidModeration):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrProcessorUnavailable):
		response.BusinessError(c, response.CodeProcessorDown, service.ErrProcessorUnavailable.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrContentNotFound), errors.Is(err, repository.ErrPayoutNotFound):
		response.Error(c, response.CodeNotFound, err.Error())
	default:
		h.log.Error("请求处理失败", zap.String("path", c.FullPath()), zap.String("account_id", currentAccount(c)), zap.Error(err))
		response.ServerError(c, "服务器内部错误")
	}
}

func limitParam(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	return limit
}

// ============================================================
// 账户相关接口
// ============================================================

// GetAccount 当前账户的点数和现金余额
// GET /api/v1/account
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.svc.Ledger.Account(c.Request.Context(), currentAccount(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"account_id":                account.ID,
		"spendable_credits":         account.SpendableCredits,
		"accrued_cash":              account.AccruedCash,
		"in_flight_cash":            account.InFlightCash,
		"payout_destination_status": account.PayoutDestinationStatus,
	})
}

// GetJournal 账户流水
// GET /api/v1/account/journal?page=1&page_size=20
func (h *Handler) GetJournal(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	entries, total, err := h.svc.Ledger.Journal(c.Request.Context(), currentAccount(c), page, pageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 页面访问
// ============================================================

type PageAccessRequest struct {
	CollectionKey string `json:"collection_key" binding:"required"`
	Page          int    `json:"page" binding:"required,gte=1"`
}

// RequestPageAccess 解锁一页内容
// POST /api/v1/access/page
//
// 余额不足时 code 为 CodeInsufficientCredits，data 里带需要的点数和当前余额，不返回内容
func (h *Handler) RequestPageAccess(c *gin.Context) {
	var req PageAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Pages.RequestPageAccess(detached(c), service.PageAccessRequest{
		ViewerID:      currentAccount(c),
		CollectionKey: req.CollectionKey,
		Page:          req.Page,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	if !result.Granted {
		c.JSON(200, response.Response{
			Code:    response.CodeInsufficientCredits,
			Message: service.ErrInsufficientCredits.Error(),
			Data:    result,
		})
		return
	}
	response.Success(c, result)
}

// ============================================================
// 购买点数
// ============================================================

// ListPlans 可购买的套餐
// GET /api/v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	response.Success(c, h.svc.Checkout.Plans())
}

type CreateCheckoutRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// CreateCheckout 创建支付会话，返回跳转地址
// POST /api/v1/checkout/create
func (h *Handler) CreateCheckout(c *gin.Context) {
	var req CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Checkout.CreateCheckout(c.Request.Context(), currentAccount(c), req.PlanID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// VerifyCheckout 支付完成页查询会话状态
// GET /api/v1/checkout/sessions/:id
func (h *Handler) VerifyCheckout(c *gin.Context) {
	status, err := h.svc.Checkout.VerifySession(c.Request.Context(), currentAccount(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, status)
}

// CheckoutHistory 购买记录
// GET /api/v1/checkout/history?limit=50
func (h *Handler) CheckoutHistory(c *gin.Context) {
	list, err := h.svc.Checkout.History(c.Request.Context(), currentAccount(c), limitParam(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// ============================================================
// 提现
// ============================================================

// RequestPayout 提现全部可提现现金
// POST /api/v1/payout/request
func (h *Handler) RequestPayout(c *gin.Context) {
	result, err := h.svc.Payouts.RequestPayout(detached(c), currentAccount(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// SetupPayout 设置收款账户
// POST /api/v1/payout/setup
func (h *Handler) SetupPayout(c *gin.Context) {
	result, err := h.svc.Payouts.SetupDestination(c.Request.Context(), currentAccount(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ManagePayout 收款账户管理入口
// POST /api/v1/payout/manage
func (h *Handler) ManagePayout(c *gin.Context) {
	link, err := h.svc.Payouts.ManageLink(c.Request.Context(), currentAccount(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"url": link})
}

// PayoutHistory 提现记录
// GET /api/v1/payout/history?limit=50
func (h *Handler) PayoutHistory(c *gin.Context) {
	list, err := h.svc.Payouts.History(c.Request.Context(), currentAccount(c), limitParam(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// ============================================================
// 内容上传与审核
// ============================================================

type CreateOfferRequest struct {
	CollectionKey   string          `json:"collection_key" binding:"required"`
	InstitutionName string          `json:"institution_name"`
	DocumentURL     string          `json:"document_url"`
	ExtractedFields json.RawMessage `json:"extracted_fields"`
}

// CreateOffer 上传 offer，进入待审核
// POST /api/v1/offers
func (h *Handler) CreateOffer(c *gin.Context) {
	var req CreateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	item, err := h.svc.Content.CreateItem(c.Request.Context(), &service.CreateItemRequest{
		OwnerID:         currentAccount(c),
		CollectionKey:   req.CollectionKey,
		InstitutionName: req.InstitutionName,
		DocumentURL:     req.DocumentURL,
		ExtractedFields: req.ExtractedFields,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, item)
}

type ModerateOfferRequest struct {
	Status string `json:"status" binding:"required"`
}

// ModerateOffer 审核，仅管理员
// POST /api/v1/offers/:id/moderate
func (h *Handler) ModerateOffer(c *gin.Context) {
	var req ModerateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	item, err := h.svc.Content.Moderate(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Info("内容审核", zap.String("item_id", item.ID), zap.String("status", item.Status), zap.String("moderator", currentAccount(c)))
	response.Success(c, item)
}
