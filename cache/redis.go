// Package cache holds the optional Redis layer: stock snapshots for the
// read API and the cross-process tick lock.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"phonesim/config"
	"phonesim/store"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var ErrLocked = errors.New("lock held by another process")

const (
	stockKey    = "phonesim:stock"
	tickLockKey = "phonesim:tick"
)

// Connect opens a Redis client and verifies it answers. It returns nil when
// Redis is disabled.
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}
	return rdb, nil
}

// StockCache keeps the latest stock levels so reads skip the database.
// A nil *StockCache is valid and caches nothing.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStockCache(client *redis.Client, ttl time.Duration) *StockCache {
	if client == nil {
		return nil
	}
	return &StockCache{client: client, ttl: ttl}
}

func (c *StockCache) Set(ctx context.Context, stocks []*store.Stock) error {
	if c == nil {
		return nil
	}
	data, err := encodeStock(stocks)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, stockKey, data, c.ttl).Err()
}

// Get returns the cached snapshot, or nil on a miss.
func (c *StockCache) Get(ctx context.Context) ([]*store.Stock, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, stockKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeStock(data)
}

func (c *StockCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, stockKey).Err()
}

func encodeStock(stocks []*store.Stock) ([]byte, error) {
	if stocks == nil {
		stocks = []*store.Stock{}
	}
	return json.Marshal(stocks)
}

func decodeStock(data []byte) ([]*store.Stock, error) {
	var stocks []*store.Stock
	if err := json.Unmarshal(data, &stocks); err != nil {
		return nil, fmt.Errorf("decode stock snapshot: %w", err)
	}
	return stocks, nil
}

// TickLock serializes ticks across processes sharing a database. A nil
// *TickLock always grants the lock.
type TickLock struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewTickLock(client *redis.Client, ttl time.Duration) *TickLock {
	if client == nil {
		return nil
	}
	return &TickLock{locker: redislock.New(client), ttl: ttl}
}

// Acquire obtains the lease and returns its release function.
func (l *TickLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if l == nil {
		return func(context.Context) error { return nil }, nil
	}
	lock, err := l.locker.Obtain(ctx, tickLockKey, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain tick lock: %w", err)
	}
	return lock.Release, nil
}
