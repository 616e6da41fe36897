package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"offerledger/internal/config"
	"offerledger/internal/infrastructure/logger"
	"offerledger/internal/infrastructure/metrics"
	"offerledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	ctxAccountID   = "account_id"
	ctxAccountRole = "account_role"

	RoleAdmin = "admin"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}
		log.Info("http",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("account_id", c.GetString(ctxAccountID)),
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic", zap.Any("error", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				response.ErrorWithStatus(c, http.StatusInternalServerError, response.CodeServerError, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-Account-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// MetricsMiddleware 按路由模板统计，避免路径参数撑爆标签
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// AccountClaims 登录服务签发的 token，sub 为账户 ID
type AccountClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware 解析当前账户
// 配置了 jwt_secret 时校验 Bearer token；否则信任网关注入的 X-Account-ID / X-Account-Role
func AuthMiddleware(cfg config.AuthConfig, log *zap.Logger) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)
	var opts []jwt.ParserOption
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		if len(secret) == 0 {
			accountID := strings.TrimSpace(c.GetHeader("X-Account-ID"))
			if accountID == "" {
				response.ErrorWithStatus(c, http.StatusUnauthorized, response.CodeUnauthorized, "未登录")
				return
			}
			c.Set(ctxAccountID, accountID)
			c.Set(ctxAccountRole, c.GetHeader("X-Account-Role"))
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			response.ErrorWithStatus(c, http.StatusUnauthorized, response.CodeUnauthorized, "未登录")
			return
		}

		claims := &AccountClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || claims.Subject == "" {
			if err == nil {
				err = errors.New("missing subject")
			}
			log.Warn("token 校验失败", logger.SecurityEvent(), zap.String("ip", c.ClientIP()), zap.Error(err))
			response.ErrorWithStatus(c, http.StatusUnauthorized, response.CodeUnauthorized, "登录已失效")
			return
		}

		c.Set(ctxAccountID, claims.Subject)
		c.Set(ctxAccountRole, claims.Role)
		c.Next()
	}
}

// RequireRole 只允许指定角色访问
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxAccountRole) != role {
			response.ErrorWithStatus(c, http.StatusForbidden, response.CodeForbidden, "无权限")
			return
		}
		c.Next()
	}
}

func currentAccount(c *gin.Context) string {
	return c.GetString(ctxAccountID)
}
