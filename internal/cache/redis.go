package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"payout/internal/domain"
)

const defaultBankKey = "payout:flip:banks"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// NewRedisClient returns a client that answered PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(redisOptions(cfg))
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func redisOptions(cfg RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// RedisBankCache shares one bank list between replicas.
type RedisBankCache struct {
	client redis.Cmdable
	key    string
}

func NewRedisBankCache(client redis.Cmdable, key string) *RedisBankCache {
	if key == "" {
		key = defaultBankKey
	}
	return &RedisBankCache{client: client, key: key}
}

func (c *RedisBankCache) Get(ctx context.Context) ([]domain.Bank, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", c.key, err)
	}

	var banks []domain.Bank
	if err := json.Unmarshal(raw, &banks); err != nil {
		return nil, false, fmt.Errorf("decode cached banks: %w", err)
	}
	return banks, true, nil
}

func (c *RedisBankCache) Set(ctx context.Context, banks []domain.Bank, ttl time.Duration) error {
	raw, err := json.Marshal(banks)
	if err != nil {
		return fmt.Errorf("encode banks: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}
