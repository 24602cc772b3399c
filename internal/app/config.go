package app

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/ceyewan/idemguard/cache"
	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/config"
	"github.com/ceyewan/idemguard/connector"
	"github.com/ceyewan/idemguard/db"
	"github.com/ceyewan/idemguard/idem"
	"github.com/ceyewan/idemguard/metrics"
	"github.com/ceyewan/idemguard/ratelimit"
	"github.com/ceyewan/idemguard/trace"
	"github.com/ceyewan/idemguard/xerrors"
)

// 数据库驱动
const (
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

// Config idemd 的完整配置
type Config struct {
	Log       clog.Config           `mapstructure:"log"`
	HTTP      HTTPConfig            `mapstructure:"http"`
	GRPC      GRPCConfig            `mapstructure:"grpc"`
	Database  DatabaseConfig        `mapstructure:"database"`
	Redis     connector.RedisConfig `mapstructure:"redis"`
	Cache     cache.Config          `mapstructure:"cache"`
	Idem      idem.Config           `mapstructure:"idem"`
	Metrics   metrics.Config        `mapstructure:"metrics"`
	RateLimit ratelimit.Config      `mapstructure:"ratelimit"`
	Trace     trace.Config          `mapstructure:"trace"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GRPCConfig gRPC 服务配置，Addr 为空时不启动
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig 业务库与幂等记录库的连接配置
type DatabaseConfig struct {
	// Driver "postgres" | "sqlite"
	Driver   string                     `mapstructure:"driver"`
	Postgres connector.PostgreSQLConfig `mapstructure:"postgres"`
	SQLite   connector.SQLiteConfig     `mapstructure:"sqlite"`
	DB       db.Config                  `mapstructure:"db"`
}

// Defaults 无配置文件时的默认值
func Defaults() map[string]any {
	return map[string]any{
		"log.level":             "info",
		"log.format":            "json",
		"log.output":            "stdout",
		"http.addr":             ":8080",
		"http.shutdown_timeout": "10s",
		"grpc.addr":             ":9090",
		"database.driver":       DatabaseSQLite,
		"database.sqlite.path":  "idemguard.db",
		"cache.enabled":         true,
		"cache.driver":          string(cache.DriverStandalone),
		"idem.driver":           string(idem.DriverDatabase),
		"idem.alive_window":     "24h",
		"metrics.enabled":       true,
		"metrics.service_name":  "idemd",
		"ratelimit.enabled":     true,
		"trace.service_name":    "idemd",
	}
}

// Load 加载配置
//
// path 为空时按 idemd.yaml 在 . 与 ./configs 下查找；环境变量前缀为 IDEMD，
// 例如 IDEMD_DATABASE_DRIVER=postgres。
func Load(ctx context.Context, path string) (*Config, error) {
	opts := []config.Option{
		config.WithConfigName("idemd"),
		config.WithConfigPaths(".", "./configs"),
		config.WithEnvPrefix("IDEMD"),
		config.WithDefaults(Defaults()),
	}
	if path != "" {
		ext := filepath.Ext(path)
		opts = append(opts,
			config.WithConfigName(strings.TrimSuffix(filepath.Base(path), ext)),
			config.WithConfigPaths(filepath.Dir(path)),
		)
		if ext != "" {
			opts = append(opts, config.WithConfigType(strings.TrimPrefix(ext, ".")))
		}
	}

	loader, err := config.New(opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create config loader")
	}
	if err := loader.Load(ctx); err != nil {
		return nil, xerrors.Wrap(err, "load config")
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Wrap(err, "unmarshal config")
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DatabaseSQLite
	}
}

// Validate 校验跨组件的配置约束，各组件自身的字段由组件在创建时校验
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DatabasePostgres, DatabaseSQLite:
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "unsupported database driver: %q", c.Database.Driver)
	}
	if c.HTTP.Addr == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "http.addr is required")
	}
	if c.needsRedis() && c.Redis.Addr == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "redis.addr is required by the redis driver")
	}
	return nil
}

func (c *Config) needsRedis() bool {
	return c.Idem.Driver == idem.DriverRedis ||
		(c.Cache.Enabled && c.Cache.Driver == cache.DriverRedis) ||
		(c.RateLimit.Enabled && c.RateLimit.Driver == ratelimit.DriverRedis)
}
