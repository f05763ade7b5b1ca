package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bluecarbon/internal/otp/models"
	"bluecarbon/pkg/platform/sentinel"
)

const keyPrefix = "otp:"

// RedisStore keeps each challenge under otp:{email}:{code} with a TTL equal to
// its lifetime. Reissuing the same code for the same email replaces
// the earlier entry, which is indistinguishable to the holder of the code.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func challengeKey(email, code string) string {
	return keyPrefix + email + ":" + code
}

// Create measures the TTL on the challenge's own clock, so a challenge built
// with an injected request time lives exactly its configured lifetime.
func (s *RedisStore) Create(ctx context.Context, c *models.Challenge) error {
	ttl := c.ExpiresAt.Sub(c.CreatedAt)
	if ttl <= 0 {
		return nil
	}
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal otp challenge: %w", err)
	}
	if err := s.client.Set(ctx, challengeKey(c.Email, c.Code), body, ttl).Err(); err != nil {
		return fmt.Errorf("store otp challenge: %w", err)
	}
	return nil
}

// Consume uses GETDEL so exactly one caller observes the value.
func (s *RedisStore) Consume(ctx context.Context, email, code string, now time.Time) (*models.Challenge, error) {
	body, err := s.client.GetDel(ctx, challengeKey(email, code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume otp challenge: %w", err)
	}
	var c models.Challenge
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("decode otp challenge: %w", err)
	}
	if !c.IsValidAt(now) {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

// DeleteExpired is a no-op; Redis expires keys itself.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
