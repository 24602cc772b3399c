package metrics

import (
	"github.com/ceyewan/idemguard/xerrors"
)

// ErrInvalidConfig 指标配置无效
var ErrInvalidConfig = xerrors.New("metrics: invalid config")

// Config 指标配置
type Config struct {
	// Enabled 为 false 时 New 返回 Discard()
	Enabled bool `mapstructure:"enabled"`
	// ServiceName 写入 resource 的 service.name
	ServiceName string `mapstructure:"service_name"`
	// Version 写入 resource 的 service.version
	Version string `mapstructure:"version"`
	// Path Prometheus 抓取路径，默认 /metrics
	Path string `mapstructure:"path"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "idemguard"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	if c.Path[0] != '/' {
		return xerrors.Wrapf(ErrInvalidConfig, "path %q must start with /", c.Path)
	}
	return nil
}
