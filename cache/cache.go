// Package cache stores finished PNG results in redis so repeated uploads of
// the same image with the same options skip inference.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg/pipeline"
	"github.com/chaos-io/rembg/util"
)

const keyPrefix = "rembg:"

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewResultCache(cfg Config, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &ResultCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger.Named("cache"),
	}
}

func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Key identifies a result by the MD5 of the encoded input and the options
// that shape the output.
func Key(data []byte, opts pipeline.Options) string {
	return fmt.Sprintf("%s%s:%s:%d:%t", keyPrefix, util.BytesMD5(data),
		opts.Background, opts.FeatherRadius, opts.SoftAlpha)
}

// Get returns the cached PNG, or nil on a miss.
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}
	c.logger.Debug("cache hit", zap.String("key", key), zap.Int("bytes", len(data)))
	return data, nil
}

func (c *ResultCache) Set(ctx context.Context, key string, png []byte) error {
	return c.client.Set(ctx, key, png, c.ttl).Err()
}

func (c *ResultCache) Close() error {
	return c.client.Close()
}
