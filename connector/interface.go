// Package connector 管理 idemguard 依赖的外部连接：PostgreSQL、SQLite 与 Redis。
//
// 约定：
//
//   - NewXXX() 只校验配置，Connect() 时才建立连接，Connect 幂等
//
//   - 连接器拥有底层连接的生命周期，组件（db、idem）只借用，不调用 Close()
//
//   - 应用层按 LIFO 顺序释放：先关闭组件，再关闭连接器
//
//     conn, err := connector.NewPostgreSQL(&cfg.Database.Postgres, connector.WithLogger(logger))
//     if err != nil {
//     return err
//     }
//     defer conn.Close()
//     if err := conn.Connect(ctx); err != nil {
//     return err
//     }
package connector

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Connector 定义所有连接器的通用行为，方法均为并发安全
type Connector interface {
	// Connect 建立连接，可重复调用
	Connect(ctx context.Context) error
	// Close 关闭连接并释放资源，可重复调用
	Close() error
	// HealthCheck 发送探测请求并刷新健康状态
	HealthCheck(ctx context.Context) error
	// IsHealthy 返回最近一次探测的结果
	IsHealthy() bool
	// Name 返回连接器实例名称，用于日志
	Name() string
}

// TypedConnector 提供类型安全的客户端访问
type TypedConnector[T any] interface {
	Connector
	// GetClient 返回底层客户端，Connect 之前或 Close 之后可能为 nil
	GetClient() T
}

// RedisConnector Redis 连接器
type RedisConnector interface {
	TypedConnector[*redis.Client]
}

// DatabaseConnector 基于 GORM 的关系型数据库连接器，PostgreSQL 与 SQLite 共用
type DatabaseConnector interface {
	TypedConnector[*gorm.DB]
	// Dialect 返回方言名称：postgres 或 sqlite
	Dialect() string
}
