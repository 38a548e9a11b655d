package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AttemptLimiter locks PIN verification on an account after repeated
// failures.
type AttemptLimiter interface {
	Allow(ctx context.Context, accountID int64) error
	RecordFailure(ctx context.Context, accountID int64)
	Reset(ctx context.Context, accountID int64)
}

// RedisAttemptLimiter counts failures per account in a key that expires
// after the lockout window. Redis errors fail open; the PIN check itself
// still runs.
type RedisAttemptLimiter struct {
	redis       *redis.Client
	maxAttempts int
	lockout     time.Duration
}

func NewRedisAttemptLimiter(client *redis.Client, maxAttempts int, lockout time.Duration) *RedisAttemptLimiter {
	return &RedisAttemptLimiter{
		redis:       client,
		maxAttempts: maxAttempts,
		lockout:     lockout,
	}
}

func pinAttemptsKey(accountID int64) string {
	return fmt.Sprintf("ledger:pin_attempts:%d", accountID)
}

func (l *RedisAttemptLimiter) Allow(ctx context.Context, accountID int64) error {
	count, err := l.redis.Get(ctx, pinAttemptsKey(accountID)).Int()
	if err != nil && err != redis.Nil {
		zap.L().Warn("PIN attempt lookup failed", zap.Int64("account_id", accountID), zap.Error(err))
		return nil
	}

	if count >= l.maxAttempts {
		return ErrTooManyAttempts
	}
	return nil
}

func (l *RedisAttemptLimiter) RecordFailure(ctx context.Context, accountID int64) {
	key := pinAttemptsKey(accountID)
	pipe := l.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.lockout)
	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Warn("Failed to record PIN failure", zap.Int64("account_id", accountID), zap.Error(err))
	}
}

func (l *RedisAttemptLimiter) Reset(ctx context.Context, accountID int64) {
	if err := l.redis.Del(ctx, pinAttemptsKey(accountID)).Err(); err != nil {
		zap.L().Warn("Failed to reset PIN attempts", zap.Int64("account_id", accountID), zap.Error(err))
	}
}

// NopAttemptLimiter is used when Redis is unavailable.
type NopAttemptLimiter struct{}

func (NopAttemptLimiter) Allow(context.Context, int64) error   { return nil }
func (NopAttemptLimiter) RecordFailure(context.Context, int64) {}
func (NopAttemptLimiter) Reset(context.Context, int64)         {}
