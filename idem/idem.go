// Package idem 为带 Idempotency-Key 的可重试写请求提供"效果仅一次"的保护。
//
// 同一幂等键的请求按 (key, method, path) 三元组关联到一条存储记录：
//   - 首次请求创建记录，在锁内执行业务函数并记录响应
//   - 重试请求直接重放已记录的响应
//   - 参数不一致的重用返回 ErrRequestMismatch，执行中的重试返回 ErrKeyLocked
//   - 上次执行失败、未记录响应的记录会被复用并重新执行
//
// 并发创建的竞争由存储层唯一约束裁决，Lookup 阶段的预检查只是优化。
// 记录在最后一次更新后的 AliveWindow（默认 24h）内有效，过期后同一键可再次使用。
//
// ## 基本使用
//
//	guard, _ := idem.New(&idem.Config{Driver: idem.DriverDatabase},
//	    idem.WithDB(database), idem.WithLogger(logger), idem.WithMeter(meter))
//
//	resp, err := guard.Do(ctx, idem.Request{
//	    Key: key, Method: "POST", Path: "/users", Params: params,
//	}, func(ctx context.Context, a *idem.Attempt) error {
//	    user, err := createUser(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    body, _ := json.Marshal(user)
//	    return a.SetResponse(ctx, string(body), http.StatusCreated, nil)
//	})
//
// ## Gin 中间件
//
//	r.POST("/users", guard.GinMiddleware(), createUserHandler)
//
// ## gRPC 拦截器
//
//	s := grpc.NewServer(grpc.UnaryInterceptor(guard.UnaryServerInterceptor()))
package idem

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/xerrors"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Guard 幂等保护的入口
type Guard interface {
	// Do 在幂等保护下执行 work
	//
	// 返回的 Response.Replayed 为 true 表示响应来自已完成的记录，work 没有执行。
	// work 返回的错误原样透传；保护本身的失败为本包定义的错误，可用 HTTPStatus/GRPCCode 映射。
	Do(ctx context.Context, req Request, work Work) (*Response, error)

	// GinMiddleware 创建 Gin 中间件，请求头缺少幂等键时返回 400。
	// 只记录状态码 < 500 且响应体非空的响应
	GinMiddleware(opts ...MiddlewareOption) gin.HandlerFunc

	// UnaryServerInterceptor 创建 gRPC 一元拦截器，metadata 缺少幂等键时返回 InvalidArgument
	UnaryServerInterceptor(opts ...InterceptorOption) grpc.UnaryServerInterceptor

	// Store 返回底层存储，供管理操作使用
	Store() Store
}

// Request 一次受保护请求的标识与参数
type Request struct {
	Key    string
	Method string
	Path   string
	// Params 参数，可为 map、结构体、[]byte 或 json.RawMessage，按规范 JSON 比较
	Params any
}

// Work 受保护的业务函数，必须在正常返回前调用 Attempt.SetResponse
type Work func(ctx context.Context, a *Attempt) error

// Response 幂等请求的结果
type Response struct {
	Body     string
	Status   int
	Headers  Headers
	Replayed bool
}

// Attempt 业务函数持有的当前记录句柄
type Attempt struct {
	store   Store
	rec     *Record
	resumed bool
}

// Record 返回当前记录的副本
func (a *Attempt) Record() Record {
	return *a.rec.clone()
}

// Resumed 当前执行是否复用了上次未完成的记录
func (a *Attempt) Resumed() bool {
	return a.resumed
}

// SetResponse 记录业务函数产生的响应
func (a *Attempt) SetResponse(ctx context.Context, body string, status int, headers Headers) error {
	return a.store.SetResponse(ctx, a.rec, body, status, headers)
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建幂等保护实例
//
// 存储按以下顺序确定：WithStore 注入的实例；否则按 cfg.Driver 使用
// WithDB（database）、WithRedisConnector（redis）或进程内存（memory）。
func New(cfg *Config, opts ...Option) (Guard, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	store := o.store
	if store == nil {
		var err error
		if store, err = newStore(cfg, o); err != nil {
			return nil, err
		}
	}

	tp := o.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	inst, err := newInstruments(o.meter)
	if err != nil {
		return nil, err
	}

	o.logger.Info("creating idem guard",
		clog.String("driver", string(cfg.Driver)),
		clog.Duration("alive_window", cfg.AliveWindow))

	return &guard{
		cfg:    cfg,
		store:  store,
		logger: o.logger,
		tracer: tp.Tracer("github.com/ceyewan/idemguard/idem"),
		inst:   inst,
	}, nil
}

// NewStore 按配置创建存储，供不需要 Guard 的管理工具使用
func NewStore(cfg *Config, opts ...Option) (Store, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newStore(cfg, applyOptions(opts))
}

func newStore(cfg *Config, o *options) (Store, error) {
	c := clock{now: o.now, window: cfg.AliveWindow}
	switch cfg.Driver {
	case DriverDatabase:
		if o.database == nil {
			return nil, xerrors.New("idem: database is required, use WithDB")
		}
		return newGormStore(o.database, c), nil
	case DriverRedis:
		if o.redisConn == nil {
			return nil, xerrors.New("idem: redis connector is required, use WithRedisConnector")
		}
		return newRedisStore(o.redisConn, cfg.Prefix, c), nil
	default:
		return newMemoryStore(c), nil
	}
}
