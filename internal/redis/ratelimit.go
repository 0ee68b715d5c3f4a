package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key patterns:
// - fedibot:ratelimit:{origin}:inbound - per-minute inbound activity budget
// - fedibot:ratelimit:{ip}:admin - per-minute admin API budget

// RateLimitConfig contains configuration for rate limiting
type RateLimitConfig struct {
	InboundLimit  int           // Max inbound activities per window per origin
	InboundWindow time.Duration // Inbound rate limit window
	AdminLimit    int           // Max admin API requests per window per IP
	AdminWindow   time.Duration // Admin rate limit window
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		InboundLimit:  300, // 300 activities per minute per origin
		InboundWindow: 60 * time.Second,
		AdminLimit:    60, // 60 admin requests per minute per IP
		AdminWindow:   60 * time.Second,
	}
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool          // Whether the action is allowed
	Remaining int           // Remaining actions in the window
	ResetIn   time.Duration // Time until the window resets
	Limit     int           // The limit for this action
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
	}
}

// AllowInbound checks whether a remote origin may deliver another activity.
func (r *RateLimiter) AllowInbound(ctx context.Context, origin string) (*RateLimitResult, error) {
	key := fmt.Sprintf("fedibot:ratelimit:%s:inbound", origin)
	return r.checkLimit(ctx, key, r.config.InboundLimit, r.config.InboundWindow)
}

// AllowAdmin checks whether a client IP may make another admin API request.
func (r *RateLimiter) AllowAdmin(ctx context.Context, ip string) (*RateLimitResult, error) {
	key := fmt.Sprintf("fedibot:ratelimit:%s:admin", ip)
	return r.checkLimit(ctx, key, r.config.AdminLimit, r.config.AdminWindow)
}

// checkLimit performs the actual rate limit check using a sliding window counter
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	// Use Lua script for atomic increment and check
	script := goredis.NewScript(`
		local key = KEYS[1]
		local limit = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])

		local current = redis.call('GET', key)
		if current == false then
			current = 0
		else
			current = tonumber(current)
		end

		local ttl = redis.call('TTL', key)
		if ttl < 0 then
			ttl = window
		end

		if current < limit then
			redis.call('INCR', key)
			if ttl == window then
				redis.call('EXPIRE', key, window)
			end
			return {1, limit - current - 1, ttl}
		else
			return {0, 0, ttl}
		end
	`)

	result, err := script.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	allowed := resultSlice[0].(int64) == 1
	remaining := int(resultSlice[1].(int64))
	resetIn := time.Duration(resultSlice[2].(int64)) * time.Second

	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetIn:   resetIn,
		Limit:     limit,
	}, nil
}

// Reset resets the rate limit for a specific key (admin operation)
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// ResetOrigin resets the inbound rate limit for a remote origin
func (r *RateLimiter) ResetOrigin(ctx context.Context, origin string) error {
	key := fmt.Sprintf("fedibot:ratelimit:%s:inbound", origin)
	return r.client.Del(ctx, key).Err()
}
