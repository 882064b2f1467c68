/**
 * @description
 * Package ratelimit holds the short-lived counters and markers the ledger keeps
 * outside the document store: sign-in throttling, once-per-session referral click
 * markers and revoked session ids. RedisLimiter shares them across replicas;
 * MemoryLimiter keeps them in-process for local mode.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 */
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "bitnest"

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter implements distributed rate limiting and markers using Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = defaultPrefix
	}
	return &RedisLimiter{client: client, prefix: trimmedPrefix}
}

func (r *RedisLimiter) key(kind, scope, subject string) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, kind, scope, subject)
}

// ConsumeRateLimit counts one hit against scope/subject within a fixed window.
func (r *RedisLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.ToLower(strings.TrimSpace(subject))
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	rawResult, err := fixedWindowScript.Run(ctx, r.client, []string{r.key("rate_limit", normalizedScope, normalizedSubject)}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(currentCount), retryAfter, nil
}

// MarkOnce sets a marker for scope/subject and reports whether this call created it.
func (r *RedisLimiter) MarkOnce(ctx context.Context, scope, subject string, ttl time.Duration) (bool, error) {
	created, err := r.client.SetNX(ctx, r.key("marker", scope, subject), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set marker: %w", err)
	}
	return created, nil
}

// Marked reports whether a marker for scope/subject is still live.
func (r *RedisLimiter) Marked(ctx context.Context, scope, subject string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key("marker", scope, subject)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check marker: %w", err)
	}
	return n > 0, nil
}
