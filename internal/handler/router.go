package handler

import (
	"offerledger/internal/config"
	"offerledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(svc *service.Services, cfg *config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())
	r.Use(MetricsMiddleware())

	h := NewHandler(svc, cfg, log)

	// 回调走签名校验，不走登录态
	r.POST("/webhooks/stripe", h.StripeWebhook)

	api := r.Group("/api/v1", AuthMiddleware(cfg.Auth, log))
	{
		account := api.Group("/account")
		{
			account.GET("", h.GetAccount)
			account.GET("/journal", h.GetJournal)
		}

		api.POST("/access/page", h.RequestPageAccess)
		api.GET("/plans", h.ListPlans)

		checkout := api.Group("/checkout")
		{
			checkout.POST("/create", h.CreateCheckout)
			checkout.GET("/sessions/:id", h.VerifyCheckout)
			checkout.GET("/history", h.CheckoutHistory)
		}

		payout := api.Group("/payout")
		{
			payout.POST("/request", h.RequestPayout)
			payout.POST("/setup", h.SetupPayout)
			payout.POST("/manage", h.ManagePayout)
			payout.GET("/history", h.PayoutHistory)
		}

		offers := api.Group("/offers")
		{
			offers.POST("", h.CreateOffer)
			offers.POST("/:id/moderate", RequireRole(RoleAdmin), h.ModerateOffer)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
