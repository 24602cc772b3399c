package ratelimit

import "github.com/ceyewan/idemguard/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("ratelimit: config is nil")

	// ErrConnectorNil Redis 模式缺少连接器
	ErrConnectorNil = xerrors.New("ratelimit: redis connector is required")

	// ErrKeyEmpty 限流键为空
	ErrKeyEmpty = xerrors.New("ratelimit: key is empty")

	// ErrInvalidLimit 限流规则无效
	ErrInvalidLimit = xerrors.New("ratelimit: invalid limit")

	// ErrRateLimitExceeded 请求被限流
	ErrRateLimitExceeded = xerrors.NewCoded("RATE_LIMITED", "Too many requests")
)
