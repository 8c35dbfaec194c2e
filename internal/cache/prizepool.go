package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"champs/internal/game"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "champs:prizepool:"

func Key(championshipID string) string {
	return keyPrefix + championshipID
}

// Memory is a process-local prize pool cache with a fixed TTL.
type Memory struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]memoryEntry
}

type memoryEntry struct {
	v   game.CachedPrizePool
	exp time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, m: make(map[string]memoryEntry)}
}

func (c *Memory) Get(_ context.Context, championshipID string) (game.CachedPrizePool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[championshipID]
	if !ok {
		return game.CachedPrizePool{}, false, nil
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		delete(c.m, championshipID)
		return game.CachedPrizePool{}, false, nil
	}
	return e.v, true, nil
}

func (c *Memory) Set(_ context.Context, championshipID string, v game.CachedPrizePool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{v: v}
	if c.ttl > 0 {
		e.exp = c.now().Add(c.ttl)
	}
	c.m[championshipID] = e
	return nil
}

func (c *Memory) Invalidate(_ context.Context, championshipID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, championshipID)
	return nil
}

// Redis shares the prize pool cache across API instances.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (c *Redis) Get(ctx context.Context, championshipID string) (game.CachedPrizePool, bool, error) {
	raw, err := c.client.Get(ctx, Key(championshipID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return game.CachedPrizePool{}, false, nil
	}
	if err != nil {
		return game.CachedPrizePool{}, false, fmt.Errorf("redis get prize pool: %w", err)
	}
	var v game.CachedPrizePool
	if err := json.Unmarshal(raw, &v); err != nil {
		return game.CachedPrizePool{}, false, fmt.Errorf("decode cached prize pool: %w", err)
	}
	return v, true, nil
}

func (c *Redis) Set(ctx context.Context, championshipID string, v game.CachedPrizePool) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, Key(championshipID), string(raw), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set prize pool: %w", err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context, championshipID string) error {
	if err := c.client.Del(ctx, Key(championshipID)).Err(); err != nil {
		return fmt.Errorf("redis del prize pool: %w", err)
	}
	return nil
}

// NewAuto returns a Redis-backed cache when addr is set, otherwise an
// in-memory one. The returned close func releases the Redis client.
func NewAuto(addr string, ttl time.Duration) (game.PrizePoolCache, func() error) {
	if addr == "" {
		return NewMemory(ttl), func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return NewRedis(client, ttl), client.Close
}
