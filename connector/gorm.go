package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/xerrors"
)

// gormConnector PostgreSQL 与 SQLite 共用的实现，差异只在 Dialector 与连接池参数
type gormConnector struct {
	name      string
	dialect   string
	dialector func() gorm.Dialector
	pool      func(*gorm.DB) error

	db      *gorm.DB
	logger  clog.Logger
	healthy atomic.Bool
	mu      sync.RWMutex
}

// NewPostgreSQL 创建 PostgreSQL 连接器
func NewPostgreSQL(cfg *PostgreSQLConfig, opts ...Option) (DatabaseConnector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opt := applyOptions(opts)

	return &gormConnector{
		name:      cfg.Name,
		dialect:   "postgres",
		dialector: func() gorm.Dialector { return postgres.Open(cfg.dsn()) },
		pool: func(db *gorm.DB) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
			return nil
		},
		logger: opt.logger.WithNamespace("postgresql").With(clog.String("name", cfg.Name)),
	}, nil
}

// NewSQLite 创建 SQLite 连接器
func NewSQLite(cfg *SQLiteConfig, opts ...Option) (DatabaseConnector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opt := applyOptions(opts)

	return &gormConnector{
		name:      cfg.Name,
		dialect:   "sqlite",
		dialector: func() gorm.Dialector { return sqlite.Open(cfg.Path) },
		pool: func(db *gorm.DB) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
			return nil
		},
		logger: opt.logger.WithNamespace("sqlite").With(clog.String("name", cfg.Name)),
	}, nil
}

func (c *gormConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	// TranslateError 让唯一约束冲突统一表现为 gorm.ErrDuplicatedKey
	db, err := gorm.Open(c.dialector(), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		c.logger.Error("failed to open database", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: %v", c.dialect, c.name, err)
	}
	if err := c.pool(db); err != nil {
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: %v", c.dialect, c.name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: %v", c.dialect, c.name, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		c.logger.Error("failed to ping database", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: ping failed: %v", c.dialect, c.name, err)
	}

	c.db = db
	c.healthy.Store(true)
	c.logger.Info("database connected")
	return nil
}

func (c *gormConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	if c.db == nil {
		return nil
	}

	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		c.logger.Error("failed to close database", clog.Error(err))
		return err
	}
	c.db = nil
	c.logger.Info("database connection closed")
	return nil
}

func (c *gormConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()

	if db == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrNotConnected, "%s connector[%s]", c.dialect, c.name)
	}

	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("database health check failed", clog.Error(err))
		return xerrors.Wrapf(ErrHealthCheck, "%s connector[%s]: %v", c.dialect, c.name, err)
	}

	c.healthy.Store(true)
	return nil
}

func (c *gormConnector) IsHealthy() bool { return c.healthy.Load() }

func (c *gormConnector) Name() string { return c.name }

func (c *gormConnector) Dialect() string { return c.dialect }

func (c *gormConnector) GetClient() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}
