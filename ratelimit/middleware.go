package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// MiddlewareOption Gin 中间件选项
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	keyFunc   func(*gin.Context) string
	limitFunc func(*gin.Context) Limit
}

// WithKeyFunc 设置限流键提取函数，默认按客户端 IP
func WithKeyFunc(fn func(*gin.Context) string) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.keyFunc = fn
		}
	}
}

// WithLimitFunc 设置按请求选择规则的函数，默认使用 Limiter.Limit()
func WithLimitFunc(fn func(*gin.Context) Limit) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.limitFunc = fn
		}
	}
}

// GinMiddleware 创建 Gin 限流中间件
//
// 被限流时返回 429 与 {"data": null, "error": "Too many requests"}。
// 限流器自身出错时放行请求，规则无效或取不到键时同样放行。
//
// 使用示例:
//
//	r.Use(ratelimit.GinMiddleware(limiter))
func GinMiddleware(limiter Limiter, opts ...MiddlewareOption) gin.HandlerFunc {
	opt := middlewareOptions{
		keyFunc:   func(c *gin.Context) string { return "ip:" + c.ClientIP() },
		limitFunc: func(*gin.Context) Limit { return limiter.Limit() },
	}
	for _, o := range opts {
		o(&opt)
	}

	return func(c *gin.Context) {
		key := opt.keyFunc(c)
		limit := opt.limitFunc(c)
		if key == "" || !limit.Valid() {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"data":  nil,
				"error": ErrRateLimitExceeded.Message(),
			})
			return
		}
		c.Next()
	}
}
