package middleware

import (
	"log/slog"
	"time"

	"campus_market/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-Id"

// AccessLog 每个请求一行结构化日志，并回写 X-Request-Id。
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	log := logging.OrDefault(logger).With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(HeaderRequestID, rid)

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"request_id", rid,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"bytes", c.Writer.Size(),
			"duration", time.Since(start).String(),
		}
		if uid, ok := UserIDFrom(c); ok {
			attrs = append(attrs, "user_id", uid)
		}
		switch {
		case status >= 500:
			log.Error("request", attrs...)
		case status >= 400:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}
