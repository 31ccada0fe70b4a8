// Package middleware 提供HTTP中间件
package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/internal/metrics"
	"github.com/zhiban/zhiban/internal/tenant"
	"github.com/zhiban/zhiban/pkg/logger"
)

// TenantConfig 租户解析配置
type TenantConfig struct {
	Manager   *tenant.Manager
	SkipPaths []string // 跳过租户解析的路径
}

// Tenant 租户解析中间件
// 从 X-Tenant-ID 请求头解析租户并注入上下文
func Tenant(cfg *TenantConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range cfg.SkipPaths {
				if strings.HasPrefix(r.URL.Path, path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			header := r.Header.Get("X-Tenant-ID")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "missing_tenant", "租户标识未提供")
				return
			}
			id, err := uuid.Parse(header)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_tenant", "租户标识格式无效")
				return
			}

			t, err := cfg.Manager.GetByID(id)
			if err != nil {
				writeError(w, http.StatusForbidden, "tenant_error", "租户不可用")
				return
			}

			ctx := tenant.WithTenant(r.Context(), t)
			w.Header().Set("X-Tenant-ID", t.ID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestID 请求ID中间件
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// Logging 日志中间件
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		tenantCode := "anonymous"
		if t, ok := tenant.FromContext(r.Context()); ok {
			tenantCode = t.Code
		}

		logger.Info().
			Str("request_id", rw.Header().Get("X-Request-ID")).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("tenant", tenantCode).
			Int("status", rw.statusCode).
			Dur("duration", duration).
			Msg("请求处理")

		metrics.RecordRequest(r.Method, r.URL.Path, rw.statusCode, duration)
	})
}

// Recovery 恢复中间件（捕获panic）
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error().Interface("panic", err).Str("path", r.URL.Path).Msg("处理器异常")
				writeError(w, http.StatusInternalServerError, "internal_error", "服务器内部错误")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS 跨域中间件
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders 安全头中间件
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

		next.ServeHTTP(w, r)
	})
}

// rateBucket 令牌桶
type rateBucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter 按租户限流的令牌桶
type RateLimiter struct {
	rate    float64 // 每秒令牌数
	burst   float64
	buckets map[string]*rateBucket
	mu      sync.Mutex
}

// NewRateLimiter 创建限流器
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	return &RateLimiter{
		rate:    requestsPerSecond,
		burst:   requestsPerSecond * 2,
		buckets: make(map[string]*rateBucket),
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &rateBucket{tokens: rl.burst, lastRefill: time.Now()}
		rl.buckets[key] = b
	}

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RateLimit 限流中间件（按租户，匿名请求共用一个桶）
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "anonymous"
			if t, ok := tenant.FromContext(r.Context()); ok {
				key = t.ID.String()
			}
			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "请求过于频繁，请稍后重试")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter 包装ResponseWriter以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// writeError 写出JSON错误响应
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":true,"code":"` + code + `","message":"` + message + `"}`))
}
