package idem

import (
	"time"

	"github.com/ceyewan/idemguard/xerrors"
)

// DriverType 存储驱动类型
type DriverType string

const (
	// DriverDatabase 使用关系数据库（PostgreSQL / SQLite）
	DriverDatabase DriverType = "database"
	// DriverRedis 使用 Redis
	DriverRedis DriverType = "redis"
	// DriverMemory 使用进程内存（仅单机与测试）
	DriverMemory DriverType = "memory"
)

// DefaultAliveWindow 默认存活窗口
const DefaultAliveWindow = 24 * time.Hour

// Config 幂等组件配置
type Config struct {
	// Driver 存储驱动: "database" | "redis" | "memory"（默认 "database"）
	Driver DriverType `mapstructure:"driver" json:"driver" yaml:"driver"`

	// Prefix Redis 键前缀，默认 "idem:"
	Prefix string `mapstructure:"prefix" json:"prefix" yaml:"prefix"`

	// AliveWindow 记录最后一次更新后的存活时长，默认 24h，边界处仍视为存活
	AliveWindow time.Duration `mapstructure:"alive_window" json:"alive_window" yaml:"alive_window"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverDatabase
	}
	if c.Prefix == "" {
		c.Prefix = "idem:"
	}
	if c.AliveWindow <= 0 {
		c.AliveWindow = DefaultAliveWindow
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverDatabase, DriverRedis, DriverMemory:
		return nil
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "idem: unsupported driver: %s", c.Driver)
	}
}
