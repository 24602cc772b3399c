package trace

import "github.com/ceyewan/idemguard/xerrors"

// Config 链路追踪配置
type Config struct {
	// ServiceName 上报的服务名（默认 "idemguard"）
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	// Endpoint OTLP gRPC 收集端地址，如 localhost:4317；为空时不导出，只在进程内生成 TraceID
	Endpoint string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	// Sampler 采样率 (0, 1]（默认 1.0）
	Sampler float64 `mapstructure:"sampler" json:"sampler" yaml:"sampler"`
	// Batcher 导出方式: "batch" | "simple"（默认 "batch"）
	Batcher string `mapstructure:"batcher" json:"batcher" yaml:"batcher"`
	// Insecure 是否使用明文连接收集端
	Insecure bool `mapstructure:"insecure" json:"insecure" yaml:"insecure"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "idemguard"
	}
	if c.Sampler == 0 {
		c.Sampler = 1.0
	}
	if c.Batcher == "" {
		c.Batcher = "batch"
	}
}

func (c *Config) validate() error {
	if c.Sampler < 0 || c.Sampler > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "sampler must be between 0 and 1, got %v", c.Sampler)
	}
	if c.Batcher != "batch" && c.Batcher != "simple" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "batcher must be \"batch\" or \"simple\", got %q", c.Batcher)
	}
	return nil
}
