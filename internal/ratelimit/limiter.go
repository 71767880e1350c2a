// Package ratelimit throttles per-identity actions with a Redis fixed window
// (INCR, then EXPIRE on the first hit). It guards the write-heavy API calls
// and relay connections; the chi middleware in this package applies a rule
// per route.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/socio/backend/internal/logging"
)

// Rule is a Redis key prefix with a count allowed per window.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleMessage allows 5 chat messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleMatch allows 10 passion match requests per minute per client.
	RuleMatch = Rule{Key: "rl:match:", Limit: 10, Window: time.Minute}

	// RuleConnect allows 5 relay connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: time.Minute}

	// RuleWrite covers pin and connection writes.
	RuleWrite = Rule{Key: "rl:write:", Limit: 20, Window: time.Minute}
)

type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts a hit for identifier under rule and reports whether it is
// within the limit. Redis failures fail open: the hit is allowed and the
// error returned for logging.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	log := logging.Component("ratelimit")

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("incr failed, failing open")
		return true, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("expire failed, failing open")
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}
	return int(count) <= rule.Limit, nil
}

// Remaining returns how many hits identifier has left in the current
// window. Redis failures report the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	count, err := l.client.Get(ctx, rule.Key+identifier).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, err
	}
	return max(rule.Limit-count, 0), nil
}

// RetryAfter returns the time left in identifier's window.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	ttl, err := l.client.TTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl < 0 {
		return rule.Window
	}
	return ttl
}
