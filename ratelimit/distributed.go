package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/connector"
	"github.com/ceyewan/idemguard/xerrors"
)

// tokenBucketScript 以“下一次可放行时间”表示桶状态的令牌桶
//
// KEYS[1]: 限流键
// ARGV: rate, burst, now（秒，浮点）, requested
// 返回: {allowed, remaining}
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local interval = 1 / rate
local fill_time = burst * interval

local tat = tonumber(redis.call('GET', KEYS[1]))
if tat == nil then
  tat = now
end
tat = math.max(tat, now)

local new_tat = tat + requested * interval
local allow_at_most = now + fill_time

if new_tat <= allow_at_most then
  redis.call('SET', KEYS[1], new_tat, 'EX', math.ceil(fill_time * 2))
  return {1, math.floor((allow_at_most - new_tat) / interval)}
end
return {0, math.floor((allow_at_most - tat) / interval)}
`)

// distributedLimiter Redis 限流器，连接由 connector 管理
type distributedLimiter struct {
	limit  Limit
	conn   connector.RedisConnector
	prefix string
	logger clog.Logger
	inst   *instruments
	now    func() time.Time
}

func newDistributed(cfg *Config, o *options, inst *instruments) *distributedLimiter {
	return &distributedLimiter{
		limit:  Limit{Rate: cfg.Rate, Burst: cfg.Burst},
		conn:   o.redisConn,
		prefix: cfg.Prefix,
		logger: o.logger,
		inst:   inst,
		now:    o.now,
	}
}

func (l *distributedLimiter) Limit() Limit {
	return l.limit
}

func (l *distributedLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *distributedLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if err := checkArgs(key, limit, n); err != nil {
		return false, err
	}

	now := float64(l.now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.conn.GetClient(), []string{l.prefix + key},
		limit.Rate, limit.Burst, now, n).Int64Slice()
	if err != nil {
		l.inst.observe(ctx, DriverRedis, false, err)
		l.logger.ErrorContext(ctx, "failed to run rate limit script",
			clog.String("key", key), clog.Error(err))
		return false, xerrors.Wrap(err, "ratelimit: run script")
	}
	if len(res) != 2 {
		return false, xerrors.New("ratelimit: unexpected script result")
	}

	allowed := res[0] == 1
	l.inst.observe(ctx, DriverRedis, allowed, nil)
	if !allowed {
		l.logger.DebugContext(ctx, "rate limit exceeded",
			clog.String("key", key),
			clog.Int64("remaining", res[1]))
	}
	return allowed, nil
}

func (l *distributedLimiter) Close() error {
	return nil
}
