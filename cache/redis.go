package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/idemguard/connector"
	"github.com/ceyewan/idemguard/xerrors"
)

type redisCache struct {
	client *redis.Client
	codec  serializer
	prefix string
	ttl    time.Duration
}

func newRedis(conn connector.RedisConnector, cfg *Config, codec serializer) Cache {
	return &redisCache{
		client: conn.GetClient(),
		codec:  codec,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
}

func (c *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return xerrors.Wrap(err, "cache: marshal")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return xerrors.Wrap(c.client.Set(ctx, c.prefix+key, data, ttl).Err(), "cache: set")
}

func (c *redisCache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return xerrors.Wrap(err, "cache: get")
	}
	return xerrors.Wrap(c.codec.Unmarshal(data, dest), "cache: unmarshal")
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = c.prefix + key
	}
	return xerrors.Wrap(c.client.Del(ctx, full...).Err(), "cache: delete")
}

// Close 连接由 connector 管理，这里不关闭
func (c *redisCache) Close() error {
	return nil
}
