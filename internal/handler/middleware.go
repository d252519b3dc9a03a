package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"campuswallet/internal/infrastructure/metrics"
	"campuswallet/internal/service"
	"campuswallet/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerAccountID    = "X-Account-ID"
	headerAccountRole  = "X-Account-Role"
	headerAccountEmail = "X-Account-Email"
	identityKey        = "identity"
)

// IdentityMiddleware 读取上游认证层写入的身份头，首次出现的账户自动开户。
// 角色以库里已有的账户为准。
func IdentityMiddleware(accounts *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerAccountID))
		role := strings.TrimSpace(c.GetHeader(headerAccountRole))
		if id == "" || role == "" {
			response.Error(c, response.CodeUnauthorized, "缺少身份信息")
			c.Abort()
			return
		}

		account, err := accounts.Open(c.Request.Context(), id, role, c.GetHeader(headerAccountEmail))
		if err != nil {
			if service.KindOf(err) == service.KindValidation {
				response.Error(c, response.CodeUnauthorized, err.Error())
			} else {
				response.ServerError(c, "服务器内部错误")
			}
			c.Abort()
			return
		}

		c.Set(identityKey, service.Identity{AccountID: account.ID, Role: account.Role})
		c.Next()
	}
}

func identity(c *gin.Context) service.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(service.Identity)
	return id
}

// LoggerMiddleware 访问日志和请求耗时
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).
			Observe(latency.Seconds())

		logger.Info("http",
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("account_id", c.GetHeader(headerAccountID)),
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic", zap.Any("error", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeServerError,
					Message: "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Idempotency-Key, X-Account-ID, X-Account-Role, X-Account-Email")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
