package db

import "github.com/ceyewan/idemguard/xerrors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.New("db: invalid config")

	// ErrConnectorRequired 未提供数据库连接器
	ErrConnectorRequired = xerrors.New("db: connector is required")
)
