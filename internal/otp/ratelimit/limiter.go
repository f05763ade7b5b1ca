// Package ratelimit throttles OTP issuance per email and purpose using Redis
// counters: a cooldown between requests, a cap per window, and a block once the
// cap is exceeded.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTooSoon = errors.New("please wait before requesting another code")
	ErrBlocked = errors.New("too many code requests; try again later")
)

// blockFactor multiplies the window to get the block duration.
const blockFactor = 3

type Limiter struct {
	client   *redis.Client
	window   time.Duration
	max      int
	cooldown time.Duration
}

func NewLimiter(client *redis.Client, window time.Duration, max int, cooldown time.Duration) *Limiter {
	return &Limiter{client: client, window: window, max: max, cooldown: cooldown}
}

func keys(email, purpose string) (block, last, count string) {
	return fmt.Sprintf("otp:block:%s:%s", email, purpose),
		fmt.Sprintf("otp:last:%s:%s", email, purpose),
		fmt.Sprintf("otp:count:%s:%s", email, purpose)
}

// Allow records one issuance attempt. It returns ErrBlocked or ErrTooSoon
// (wrapped with the remaining wait) when the attempt must be refused.
func (l *Limiter) Allow(ctx context.Context, email, purpose string) error {
	blockKey, lastKey, countKey := keys(email, purpose)

	if ttl, err := l.client.TTL(ctx, blockKey).Result(); err != nil {
		return fmt.Errorf("read otp block: %w", err)
	} else if ttl > 0 {
		return fmt.Errorf("%w (retry in %ds)", ErrBlocked, int(ttl.Seconds()))
	}

	if ttl, err := l.client.TTL(ctx, lastKey).Result(); err != nil {
		return fmt.Errorf("read otp cooldown: %w", err)
	} else if ttl > 0 {
		return fmt.Errorf("%w (retry in %ds)", ErrTooSoon, int(ttl.Seconds()))
	}

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, countKey)
		pipe.ExpireNX(ctx, countKey, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("count otp request: %w", err)
	}

	if int(incr.Val()) > l.max {
		block := l.window * blockFactor
		if err := l.client.Set(ctx, blockKey, "1", block).Err(); err != nil {
			return fmt.Errorf("set otp block: %w", err)
		}
		return fmt.Errorf("%w (retry in %ds)", ErrBlocked, int(block.Seconds()))
	}

	if l.cooldown > 0 {
		if err := l.client.Set(ctx, lastKey, "1", l.cooldown).Err(); err != nil {
			return fmt.Errorf("set otp cooldown: %w", err)
		}
	}
	return nil
}
