package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore is the fast path for submission tokens. The orders table
// (UNIQUE submission_token) stays the source of truth.
type IdempotencyStore struct {
	RDB redis.Cmdable
}

// Reserve marks token in flight. False means another submission holds it or
// it already completed.
func (s *IdempotencyStore) Reserve(ctx context.Context, token string) (bool, error) {
	return s.RDB.SetNX(ctx, key(token), inflight, TTLInFlight).Result()
}

func (s *IdempotencyStore) Complete(ctx context.Context, token, orderID string) error {
	return s.RDB.Set(ctx, key(token), orderID, TTLIdempotency).Err()
}

// Release frees an in-flight token after a failed submission. A completed
// token is left alone.
func (s *IdempotencyStore) Release(ctx context.Context, token string) error {
	k := key(token)
	v, err := s.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if v != inflight {
		return nil
	}
	return s.RDB.Del(ctx, k).Err()
}

// Lookup returns the order id of a completed token.
func (s *IdempotencyStore) Lookup(ctx context.Context, token string) (string, bool, error) {
	v, err := s.RDB.Get(ctx, key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if v == inflight {
		return "", false, nil
	}
	return v, true, nil
}

func (s *IdempotencyStore) Forget(ctx context.Context, token string) error {
	return s.RDB.Del(ctx, key(token)).Err()
}

func key(token string) string { return fmt.Sprintf(KeyIdemOrderCreate, token) }
