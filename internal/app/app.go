// Package app 组装 idemd 进程：按配置创建日志、指标、链路追踪、数据库与 Redis 连接、
// 幂等保护、缓存与限流组件，并挂载 blog 的 HTTP 与 gRPC 服务。
package app

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ceyewan/idemguard/cache"
	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/connector"
	"github.com/ceyewan/idemguard/db"
	"github.com/ceyewan/idemguard/idem"
	"github.com/ceyewan/idemguard/internal/blog"
	"github.com/ceyewan/idemguard/metrics"
	"github.com/ceyewan/idemguard/ratelimit"
	"github.com/ceyewan/idemguard/trace"
	"github.com/ceyewan/idemguard/xerrors"
)

// App 已装配的进程组件
type App struct {
	cfg *Config

	Logger  clog.Logger
	Meter   metrics.Meter
	Tracer  *sdktrace.TracerProvider
	DB      db.DB
	Redis   connector.RedisConnector
	Cache   cache.Cache
	Guard   idem.Guard
	Limiter ratelimit.Limiter

	repo    *blog.Repository
	closers []func(context.Context) error
}

// New 按配置创建全部组件，任一步失败时释放已创建的资源
func New(ctx context.Context, cfg *Config) (a *App, err error) {
	cfg.setDefaults()
	a = &App{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	if a.Logger, err = clog.New(&cfg.Log, clog.WithNamespace("idemd"), clog.WithTraceContext(), clog.WithStandardContext()); err != nil {
		return nil, xerrors.Wrap(err, "init logger")
	}

	if a.Tracer, err = trace.Init(ctx, &cfg.Trace); err != nil {
		return nil, xerrors.Wrap(err, "init trace")
	}
	a.onClose(a.Tracer.Shutdown)

	if a.Meter, err = metrics.New(&cfg.Metrics, metrics.WithLogger(a.Logger), metrics.WithGlobal()); err != nil {
		return nil, xerrors.Wrap(err, "init metrics")
	}
	a.onClose(a.Meter.Shutdown)

	if err = a.initDatabase(ctx); err != nil {
		return nil, err
	}
	if cfg.needsRedis() {
		if err = a.initRedis(ctx); err != nil {
			return nil, err
		}
	}

	idemOpts := []idem.Option{
		idem.WithLogger(a.Logger),
		idem.WithMeter(a.Meter),
		idem.WithTracerProvider(a.Tracer),
		idem.WithDB(a.DB),
	}
	if a.Redis != nil {
		idemOpts = append(idemOpts, idem.WithRedisConnector(a.Redis))
	}
	if a.Guard, err = idem.New(&cfg.Idem, idemOpts...); err != nil {
		return nil, xerrors.Wrap(err, "init idem guard")
	}

	limitOpts := []ratelimit.Option{ratelimit.WithLogger(a.Logger), ratelimit.WithMeter(a.Meter)}
	if a.Redis != nil {
		limitOpts = append(limitOpts, ratelimit.WithRedisConnector(a.Redis))
	}
	if a.Limiter, err = ratelimit.New(&cfg.RateLimit, limitOpts...); err != nil {
		return nil, xerrors.Wrap(err, "init rate limiter")
	}
	a.onClose(func(context.Context) error { return a.Limiter.Close() })

	cacheOpts := []cache.Option{cache.WithLogger(a.Logger)}
	if a.Redis != nil {
		cacheOpts = append(cacheOpts, cache.WithRedisConnector(a.Redis))
	}
	if a.Cache, err = cache.New(&cfg.Cache, cacheOpts...); err != nil {
		return nil, xerrors.Wrap(err, "init cache")
	}
	a.onClose(func(context.Context) error { return a.Cache.Close() })

	a.repo = blog.NewRepository(a.DB, blog.WithCache(a.Cache))
	return a, nil
}

func (a *App) initDatabase(ctx context.Context) error {
	var (
		conn connector.DatabaseConnector
		err  error
	)
	connOpts := []connector.Option{connector.WithLogger(a.Logger), connector.WithTracerProvider(a.Tracer)}
	switch a.cfg.Database.Driver {
	case DatabasePostgres:
		conn, err = connector.NewPostgreSQL(&a.cfg.Database.Postgres, connOpts...)
	default:
		conn, err = connector.NewSQLite(&a.cfg.Database.SQLite, connOpts...)
	}
	if err != nil {
		return xerrors.Wrap(err, "create database connector")
	}
	if err := conn.Connect(ctx); err != nil {
		return xerrors.Wrap(err, "connect database")
	}
	a.onClose(func(context.Context) error { return conn.Close() })

	a.DB, err = db.New(conn, &a.cfg.Database.DB, db.WithLogger(a.Logger), db.WithTracer(a.Tracer))
	return xerrors.Wrap(err, "init db")
}

func (a *App) initRedis(ctx context.Context) error {
	conn, err := connector.NewRedis(&a.cfg.Redis, connector.WithLogger(a.Logger), connector.WithTracerProvider(a.Tracer))
	if err != nil {
		return xerrors.Wrap(err, "create redis connector")
	}
	if err := conn.Connect(ctx); err != nil {
		return xerrors.Wrap(err, "connect redis")
	}
	a.onClose(func(context.Context) error { return conn.Close() })
	a.Redis = conn
	return nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close 按创建的逆序释放资源
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return xerrors.Combine(errs...)
}

// Migrate 创建 blog 业务表，幂等记录存放在数据库时一并创建记录表
func (a *App) Migrate(ctx context.Context) error {
	if err := a.repo.Migrate(ctx); err != nil {
		return xerrors.Wrap(err, "migrate blog")
	}
	if a.cfg.Idem.Driver == idem.DriverDatabase {
		if err := idem.Migrate(ctx, a.DB); err != nil {
			return xerrors.Wrap(err, "migrate idem")
		}
	}
	a.Logger.InfoContext(ctx, "migration finished", clog.String("database", a.DB.Dialect()))
	return nil
}

// ========================================
// 服务
// ========================================

// HTTPHandler 返回 blog HTTP API，附带 /metrics 与 /healthz
func (a *App) HTTPHandler() (http.Handler, error) {
	sm, err := metrics.NewServerMetrics(a.Meter, a.cfg.Metrics.ServiceName)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(
		blog.Recovery(a.Logger),
		trace.GinMiddleware(a.cfg.Trace.ServiceName, a.Tracer),
		sm.GinMiddleware(),
	)
	if a.cfg.Metrics.Enabled {
		r.GET(a.cfg.Metrics.Path, gin.WrapH(a.Meter.Handler()))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": "ok", "error": nil})
	})

	api := r.Group("", ratelimit.GinMiddleware(a.Limiter))
	blog.Register(api, blog.NewHandler(a.repo, a.Logger), a.Guard.GinMiddleware())
	return r, nil
}

// GRPCServer 返回注册了 blog.v1.Users 的 gRPC 服务
func (a *App) GRPCServer() (*grpc.Server, error) {
	sm, err := metrics.NewServerMetrics(a.Meter, a.cfg.Metrics.ServiceName)
	if err != nil {
		return nil, err
	}
	s := grpc.NewServer(
		grpc.StatsHandler(trace.GRPCServerStatsHandler(a.Tracer)),
		grpc.ChainUnaryInterceptor(
			sm.UnaryServerInterceptor(),
			ratelimit.UnaryServerInterceptor(a.Limiter),
			a.Guard.UnaryServerInterceptor(),
		),
	)
	blog.RegisterUsersServer(s, blog.NewUsersServer(a.repo, a.Logger))
	return s, nil
}

// Run 启动 HTTP 与 gRPC 服务，直到 ctx 取消或任一服务退出
func (a *App) Run(ctx context.Context) error {
	handler, err := a.HTTPHandler()
	if err != nil {
		return err
	}
	httpServer := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: handler}

	var (
		grpcServer *grpc.Server
		grpcLis    net.Listener
	)
	if a.cfg.GRPC.Addr != "" {
		if grpcServer, err = a.GRPCServer(); err != nil {
			return err
		}
		if grpcLis, err = net.Listen("tcp", a.cfg.GRPC.Addr); err != nil {
			return xerrors.Wrap(err, "grpc listen")
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", clog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return xerrors.Wrap(err, "http server")
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			a.Logger.Info("grpc server listening", clog.String("addr", grpcLis.Addr().String()))
			return xerrors.Wrap(grpcServer.Serve(grpcLis), "grpc server")
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return xerrors.Wrap(httpServer.Shutdown(shutdownCtx), "http shutdown")
	})
	return g.Wait()
}
