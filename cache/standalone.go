package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/idemguard/xerrors"
)

type standaloneCache struct {
	cache *otter.Cache[string, []byte]
	codec serializer
	ttl   time.Duration
}

func newStandalone(cfg *Config, codec serializer) (Cache, error) {
	// 写入过期，与 Redis 的 TTL 语义一致：读取不会重置过期时间
	c, err := otter.New(&otter.Options[string, []byte]{
		MaximumSize:      cfg.Capacity,
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](cfg.TTL),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "cache: build otter cache")
	}
	return &standaloneCache{cache: c, codec: codec, ttl: cfg.TTL}, nil
}

func (c *standaloneCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return xerrors.Wrap(err, "cache: marshal")
	}
	c.cache.Set(key, data)
	if ttl > 0 && ttl != c.ttl {
		c.cache.SetExpiresAfter(key, ttl)
	}
	return nil
}

func (c *standaloneCache) Get(_ context.Context, key string, dest any) error {
	data, ok := c.cache.GetIfPresent(key)
	if !ok {
		return ErrMiss
	}
	return xerrors.Wrap(c.codec.Unmarshal(data, dest), "cache: unmarshal")
}

func (c *standaloneCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.cache.Invalidate(key)
	}
	return nil
}

func (c *standaloneCache) Close() error {
	c.cache.InvalidateAll()
	return nil
}
