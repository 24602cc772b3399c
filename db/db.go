// Package db 在 GORM 连接器之上提供数据库组件：事务、迁移、SQL 日志与链路追踪。
//
// db 借用 connector.DatabaseConnector 的连接，不负责连接的生命周期：
//
//	conn, _ := connector.NewSQLite(&connector.SQLiteConfig{Path: "idemguard.db"})
//	_ = conn.Connect(ctx)
//	defer conn.Close()
//
//	database, _ := db.New(conn, &db.Config{}, db.WithLogger(logger))
//	err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
//		return tx.Create(&user).Error
//	})
package db

import (
	"context"
	"errors"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/connector"
	"github.com/ceyewan/idemguard/xerrors"
)

// DB 定义了数据库组件的核心能力
type DB interface {
	// DB 返回绑定 ctx 的 *gorm.DB，用于普通查询
	DB(ctx context.Context) *gorm.DB

	// Transaction 在事务中执行 fn，fn 返回错误时回滚
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error

	// AutoMigrate 创建或更新模型对应的表结构
	AutoMigrate(ctx context.Context, models ...any) error

	// Dialect 返回方言名称：postgres 或 sqlite
	Dialect() string

	// Close 关闭组件，连接由连接器管理
	Close() error
}

type database struct {
	client  *gorm.DB
	dialect string
	logger  clog.Logger
}

// New 创建数据库组件
func New(conn connector.DatabaseConnector, cfg *Config, opts ...Option) (DB, error) {
	if conn == nil {
		return nil, ErrConnectorRequired
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	gormDB := conn.GetClient()
	if gormDB == nil {
		return nil, xerrors.Wrapf(connector.ErrNotConnected, "db: connector %s", conn.Name())
	}

	if opt.tracer != nil {
		plugin := otelgorm.NewPlugin(
			otelgorm.WithTracerProvider(opt.tracer),
			otelgorm.WithDBName(conn.Name()),
		)
		if err := gormDB.Use(plugin); err != nil {
			return nil, xerrors.Wrap(err, "db: register otelgorm plugin")
		}
	}

	client := gormDB.Session(&gorm.Session{
		Logger: newGormLogger(opt.logger, cfg),
	})

	return &database{
		client:  client,
		dialect: conn.Dialect(),
		logger:  opt.logger,
	}, nil
}

func (d *database) DB(ctx context.Context) *gorm.DB {
	return d.client.WithContext(ctx)
}

func (d *database) Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return d.client.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
}

func (d *database) AutoMigrate(ctx context.Context, models ...any) error {
	if err := d.client.WithContext(ctx).AutoMigrate(models...); err != nil {
		return xerrors.Wrap(err, "db: auto migrate")
	}
	return nil
}

func (d *database) Dialect() string {
	return d.dialect
}

func (d *database) Close() error {
	return nil
}

// IsDuplicateKey 判断是否为唯一约束冲突，依赖连接器开启的 TranslateError
func IsDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
