// Package redis adapts go-redis as the shared/distributed tier. All remote
// errors surface through the tier contract so the engine can degrade to
// "miss this tier" instead of failing the call.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openlms/tiercache/tier"
)

var ErrNilClient = errors.New("redis tier: nil client")

type Tier struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ tier.Tier = (*Tier)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this tier exclusively owns the client
}

func New(cfg Config) (*Tier, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Tier{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (t *Tier) Name() string { return "redis" }

func (t *Tier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := t.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (t *Tier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 0 // non-positive TTL => no expiry
	}
	if err := t.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tier) Del(ctx context.Context, key string) (bool, error) {
	n, err := t.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteByPattern relies on SCAN MATCH, whose glob dialect covers the
// engine's key grammar ('*' and '?').
func (t *Tier) DeleteByPattern(ctx context.Context, pattern string) ([]string, error) {
	var matched []string
	iter := t.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		matched = append(matched, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}
	if err := t.rdb.Del(ctx, matched...).Err(); err != nil {
		return nil, err
	}
	return matched, nil
}

// Close releases the underlying redis client only when this tier owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (t *Tier) Close(context.Context) error {
	if t.closeClient {
		if err := t.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
