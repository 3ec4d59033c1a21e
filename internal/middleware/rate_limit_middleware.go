package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// RateLimitConfig содержит настройки rate limiting
type RateLimitConfig struct {
	// MaxRequests — максимальное количество запросов за Window
	MaxRequests int
	// Window — временное окно для подсчёта запросов
	Window time.Duration
	// KeyPrefix — префикс для ключей в Redis
	KeyPrefix string
}

// DefaultAPIRateLimitConfig — общий лимит для REST-поверхности
func DefaultAPIRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 60,
		Window:      1 * time.Minute,
		KeyPrefix:   "rl:api",
	}
}

// RoomCreateRateLimitConfig — строгий лимит на создание комнат
func RoomCreateRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 5,
		Window:      1 * time.Minute,
		KeyPrefix:   "rl:room:create",
	}
}

// ImportRateLimitConfig — лимит на массовый импорт вопросов
func ImportRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 3,
		Window:      5 * time.Minute,
		KeyPrefix:   "rl:questions:import",
	}
}

// RateLimiter — middleware с фиксированным окном на счётчиках Redis
type RateLimiter struct {
	redisClient redis.UniversalClient
}

// NewRateLimiter создает новый RateLimiter
func NewRateLimiter(redisClient redis.UniversalClient) *RateLimiter {
	return &RateLimiter{redisClient: redisClient}
}

// Limit ограничивает запросы по паре IP + route pattern
func (rl *RateLimiter) Limit(cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // Gin route pattern, например "/api/rooms"
		if path == "" {
			path = c.Request.URL.Path
		}
		rl.enforce(c, cfg, fmt.Sprintf("%s:%s:%s", cfg.KeyPrefix, c.ClientIP(), path))
	}
}

// LimitByIP ограничивает запросы по IP без привязки к path.
// Используется как глобальный лимит на группу endpoints
func (rl *RateLimiter) LimitByIP(cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		rl.enforce(c, cfg, fmt.Sprintf("%s:%s", cfg.KeyPrefix, c.ClientIP()))
	}
}

func (rl *RateLimiter) enforce(c *gin.Context, cfg RateLimitConfig, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	count, err := rl.redisClient.Incr(ctx, key).Result()
	if err != nil {
		// При ошибке Redis пропускаем запрос (fail-open), но логируем
		log.Printf("[RateLimiter] Redis error for key %s: %v. Allowing request (fail-open).", key, err)
		c.Next()
		return
	}

	// Первый запрос в окне задает TTL ключа
	if count == 1 {
		if err := rl.redisClient.Expire(ctx, key, cfg.Window).Err(); err != nil {
			log.Printf("[RateLimiter] Failed to set TTL for key %s: %v", key, err)
		}
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	ttl, _ := rl.redisClient.TTL(ctx, key).Result()
	retryAfter := int(ttl.Seconds())
	if retryAfter < 0 {
		retryAfter = int(cfg.Window.Seconds())
	}

	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.MaxRequests))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", retryAfter))

	if int(count) > cfg.MaxRequests {
		log.Printf("[RateLimiter] Rate limit exceeded for key=%s. Count=%d, Limit=%d",
			key, count, cfg.MaxRequests)

		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Too many requests. Please try again later.",
			"error_type":  "rate_limited",
			"retry_after": retryAfter,
		})
		return
	}

	c.Next()
}
