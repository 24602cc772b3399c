package connector

import (
	"fmt"
	"time"

	"github.com/ceyewan/idemguard/xerrors"
)

// PostgreSQLConfig PostgreSQL 连接配置
type PostgreSQLConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "default")

	DSN      string `mapstructure:"dsn"`      // 完整 DSN，提供时忽略 Host/Port 等字段
	Host     string `mapstructure:"host"`     // 主机地址
	Port     int    `mapstructure:"port"`     // 端口 (默认: 5432)
	Username string `mapstructure:"username"` // 用户名
	Password string `mapstructure:"password"` // 密码
	Database string `mapstructure:"database"` // 数据库名
	SSLMode  string `mapstructure:"sslmode"`  // (默认: "disable")
	Timezone string `mapstructure:"timezone"` // (默认: "UTC")

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // (默认: 10)
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // (默认: 100)
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // (默认: 1h)
}

func (c *PostgreSQLConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 100
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
}

func (c *PostgreSQLConfig) validate() error {
	if c == nil {
		return xerrors.Wrap(ErrConfig, "postgresql config is nil")
	}
	c.setDefaults()
	if c.DSN != "" {
		return nil
	}
	if c.Host == "" {
		return xerrors.Wrap(ErrConfig, "postgresql host is required")
	}
	if c.Username == "" {
		return xerrors.Wrap(ErrConfig, "postgresql username is required")
	}
	if c.Database == "" {
		return xerrors.Wrap(ErrConfig, "postgresql database is required")
	}
	return nil
}

func (c *PostgreSQLConfig) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode, c.Timezone)
}

// SQLiteConfig SQLite 连接配置
type SQLiteConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "default")
	// Path 数据库文件路径或 DSN，例如 "idemguard.db"、"file:test?mode=memory&cache=shared"
	Path string `mapstructure:"path"`
	// MaxOpenConns SQLite 写入是串行的，默认 1 个连接以避免 database is locked
	MaxOpenConns int `mapstructure:"max_open_conns"`
}

func (c *SQLiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 1
	}
}

func (c *SQLiteConfig) validate() error {
	if c == nil {
		return xerrors.Wrap(ErrConfig, "sqlite config is nil")
	}
	c.setDefaults()
	if c.Path == "" {
		return xerrors.Wrap(ErrConfig, "sqlite path is required")
	}
	return nil
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "default")

	Addr     string `mapstructure:"addr"`     // 连接地址，如 "127.0.0.1:6379"
	Password string `mapstructure:"password"` // 认证密码
	DB       int    `mapstructure:"db"`       // 数据库编号

	PoolSize     int           `mapstructure:"pool_size"`      // (默认: 10)
	MinIdleConns int           `mapstructure:"min_idle_conns"` // (默认: 2)
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`   // (默认: 5s)
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`   // (默认: 3s)
	WriteTimeout time.Duration `mapstructure:"write_timeout"`  // (默认: 3s)
}

func (c *RedisConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 2
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

func (c *RedisConfig) validate() error {
	if c == nil {
		return xerrors.Wrap(ErrConfig, "redis config is nil")
	}
	c.setDefaults()
	if c.Addr == "" {
		return xerrors.Wrap(ErrConfig, "redis addr is required")
	}
	if c.DB < 0 {
		return xerrors.Wrapf(ErrConfig, "redis db must not be negative, got %d", c.DB)
	}
	return nil
}
