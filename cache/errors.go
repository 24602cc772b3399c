package cache

import "github.com/ceyewan/idemguard/xerrors"

var (
	// ErrMiss 键不存在或已过期
	ErrMiss = xerrors.New("cache: miss")
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("cache: config is nil")
	// ErrConnectorNil Redis 驱动缺少连接器
	ErrConnectorNil = xerrors.New("cache: redis connector is required, use WithRedisConnector")
	// ErrUnsupportedSerializer 不支持的序列化器
	ErrUnsupportedSerializer = xerrors.New("cache: unsupported serializer")
)
