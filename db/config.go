package db

import (
	"strings"
	"time"

	"github.com/ceyewan/idemguard/xerrors"
)

// Config DB 组件配置
type Config struct {
	// LogLevel SQL 日志级别：silent|error|warn|info（默认 warn）
	LogLevel string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	// SlowThreshold 慢 SQL 阈值（默认 200ms）
	SlowThreshold time.Duration `mapstructure:"slow_threshold" json:"slow_threshold" yaml:"slow_threshold"`
}

func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "silent", "error", "warn", "info":
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported log level: %s", c.LogLevel)
	}
	if c.SlowThreshold < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "slow threshold must not be negative")
	}
	return nil
}
