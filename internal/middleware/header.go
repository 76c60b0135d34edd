package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tradewire/internal/consts"
)

// RequestId 为每个请求生成唯一ID，贯穿日志和响应
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.Request.Header.Get(consts.RequestId)
		if requestId == "" {
			requestId = uuid.NewString()
		}
		c.Set(consts.RequestId, requestId)
		c.Writer.Header().Set(consts.RequestId, requestId)
		c.Next()
	}
}
