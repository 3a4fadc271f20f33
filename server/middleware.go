package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chaos-io/rembg/util"
)

// Logger 记录每个请求. skip 中的路径 (健康检查) 只在失败时记录.
// 5xx 记为 error, 4xx 记为 warn.
func Logger(skip ...string) gin.HandlerFunc {
	quiet := make(map[string]bool, len(skip))
	for _, p := range skip {
		quiet[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := zapcore.InfoLevel
		switch {
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= http.StatusBadRequest:
			level = zapcore.WarnLevel
		case quiet[path]:
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("cost", time.Since(start)),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("ip", c.ClientIP()),
		}
		if id := c.Writer.Header().Get(headerRequestID); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if c.Writer.Header().Get(headerCache) != "" {
			fields = append(fields, zap.Bool("cache_hit", true))
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			fields = append(fields, zap.String("errors", errs.String()))
		}
		if ce := util.Logger.Check(level, "request"); ce != nil {
			ce.Write(fields...)
		}
	}
}
