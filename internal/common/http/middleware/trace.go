package middleware

import (
	"context"
	"strings"

	"fujudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	runIDHeader     = "X-Run-Id"
)

// TraceContextConfig controls which ids are taken from the request.
type TraceContextConfig struct {
	// AllowRunIDHeader lets callers pick the run id of a judge request.
	AllowRunIDHeader bool
}

// TraceContextMiddleware ensures trace and request ids are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{AllowRunIDHeader: true})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = bindHeader(ctx, c, traceIDHeader, contextkey.TraceID, true)
		ctx = bindHeader(ctx, c, requestIDHeader, contextkey.RequestID, true)
		if cfg.AllowRunIDHeader {
			ctx = bindHeader(ctx, c, runIDHeader, contextkey.RunID, false)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RunIDFromHeader returns the run id supplied through X-Run-Id, if any.
func RunIDFromHeader(c *gin.Context) string {
	if v, ok := c.Get(string(contextkey.RunID)); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func bindHeader(ctx context.Context, c *gin.Context, header string, key contextkey.Key, generate bool) context.Context {
	value := strings.TrimSpace(c.GetHeader(header))
	if value == "" {
		if !generate {
			return ctx
		}
		value = uuid.NewString()
	}
	c.Set(string(key), value)
	c.Writer.Header().Set(header, value)
	return context.WithValue(ctx, key, value)
}
