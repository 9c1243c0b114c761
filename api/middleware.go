package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	gatewayhandler "github.com/FWU-DE/telli-dialog-sub004/api/handlers/gateway"
	"github.com/FWU-DE/telli-dialog-sub004/internal/gateway"
	"github.com/FWU-DE/telli-dialog-sub004/internal/logger"
	"github.com/FWU-DE/telli-dialog-sub004/internal/metrics"
)

// RequestLogger 请求日志中间件
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// RequestID 请求 ID 中间件，响应头带回 X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", "Content-Length", "Accept-Encoding", "Authorization",
			"Accept", "Origin", "Cache-Control", "X-Requested-With",
		}, ", "))
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// ApiKeyAuth API 密钥认证中间件
// 解析 Bearer 令牌并做常量时间比对，成功后把密钥放入上下文
func ApiKeyAuth(auth *gateway.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			switch err {
			case gateway.ErrNoBearerToken:
				metrics.AuthFailuresTotal.WithLabelValues("missing_token").Inc()
			default:
				metrics.AuthFailuresTotal.WithLabelValues("invalid_key").Inc()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(gatewayhandler.ContextKeyApiKey, key)
		c.Next()
	}
}

// AdminAuth 管理接口认证中间件
// Bearer 令牌与静态管理密钥做常量时间比对
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gateway.ErrNoBearerToken.Error()})
			return
		}

		if !gateway.VerifyAdminKey(token, adminKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gateway.ErrInvalidApiKey.Error()})
			return
		}

		c.Next()
	}
}
