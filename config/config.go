// Package config 为 idemguard 提供统一的配置加载能力，基于 Viper 实现。
//
// 配置优先级（高到低）：环境变量 > .env 文件 > <name>.<env>.yaml > <name>.yaml > 默认值
//
// 基本使用：
//
//	loader := config.MustLoad(
//		config.WithConfigName("idemd"),
//		config.WithConfigPaths(".", "./configs"),
//		config.WithEnvPrefix("IDEMD"),
//	)
//
//	var cfg app.Config
//	if err := loader.Unmarshal(&cfg); err != nil {
//		panic(err)
//	}
package config

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/idemguard/clog"
)

// Loader 定义配置加载器的核心行为
type Loader interface {
	// Load 加载配置并开始监听配置文件变化
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体（mapstructure 标签）
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听某个 Key 的变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // file
	Timestamp time.Time
}

// Options 加载器选项
type Options struct {
	Name      string         // 配置文件名称（不含扩展名）
	Paths     []string       // 配置文件搜索路径
	FileType  string         // 配置文件类型 (yaml, json, ...)
	EnvPrefix string         // 环境变量前缀
	Defaults  map[string]any // 默认值，保证无配置文件时也能启动
	Logger    clog.Logger
}

// Option 配置选项模式
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Name:      "config",
		Paths:     []string{".", "./config"},
		FileType:  "yaml",
		EnvPrefix: "IDEMGUARD",
		Logger:    clog.Discard(),
	}
}

// WithConfigName 设置配置文件名称（不带扩展名）
func WithConfigName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithConfigPaths 设置配置文件搜索路径（覆盖默认值）
func WithConfigPaths(paths ...string) Option {
	return func(o *Options) { o.Paths = paths }
}

// WithConfigType 设置配置文件类型
func WithConfigType(typ string) Option {
	return func(o *Options) { o.FileType = typ }
}

// WithEnvPrefix 设置环境变量前缀，会被转为大写
func WithEnvPrefix(prefix string) Option {
	return func(o *Options) { o.EnvPrefix = strings.ToUpper(prefix) }
}

// WithDefaults 设置默认值，key 使用 "." 分隔的层级路径
func WithDefaults(defaults map[string]any) Option {
	return func(o *Options) { o.Defaults = defaults }
}

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger.WithNamespace("config")
		}
	}
}

// New 创建配置加载器，需要调用 Load 后才能读取配置
func New(opts ...Option) (Loader, error) {
	return newLoader(opts...)
}

// MustLoad 创建并加载配置，失败时 panic，仅用于程序启动阶段
func MustLoad(opts ...Option) Loader {
	l, err := newLoader(opts...)
	if err != nil {
		panic(err)
	}
	if err := l.Load(context.Background()); err != nil {
		panic(err)
	}
	return l
}
