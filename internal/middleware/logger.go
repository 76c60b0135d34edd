package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"tradewire/pkg/logger"
)

// GinLogger 访问日志
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("access",
			logger.Pair("status", c.Writer.Status()),
			logger.Pair("method", c.Request.Method),
			logger.Pair("path", path),
			logger.Pair("query", query),
			logger.Pair("ip", c.ClientIP()),
			logger.Pair("cost", time.Since(start).String()),
			logger.Pair("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()),
		)
	}
}

// GinRecovery panic兜底，返回500并记录堆栈
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					logger.Pair("path", c.Request.URL.Path),
					logger.Pair("err", err),
				)
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}
