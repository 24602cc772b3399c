package idem

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/metrics"
)

// guard Guard 的实现（非导出）
type guard struct {
	cfg    *Config
	store  Store
	logger clog.Logger
	tracer trace.Tracer
	inst   *instruments
}

func (g *guard) Store() Store {
	return g.store
}

// Do 状态机：Validate → Lookup → (Create → 竞争裁决) → Execute → Verify
func (g *guard) Do(ctx context.Context, req Request, work Work) (resp *Response, err error) {
	ctx, span := g.tracer.Start(ctx, "idem.Do", trace.WithAttributes(
		attribute.String("idem.method", req.Method),
		attribute.String("idem.path", req.Path),
	))
	outcome := OutcomeError
	defer func() {
		g.inst.requests.Inc(ctx, metrics.L(LabelOutcome, outcome))
		span.SetAttributes(attribute.String("idem.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	key, ok := canonicalKey(req.Key)
	if !ok {
		outcome = OutcomeInvalid
		return nil, ErrInvalidKey
	}
	span.SetAttributes(attribute.String("idem.key", key))
	logger := g.logger.With(clog.String("idempotency_key", key), clog.String("method", req.Method), clog.String("path", req.Path))

	params, err := Canonicalize(req.Params)
	if err != nil {
		outcome = OutcomeInvalid
		return nil, err
	}

	rec, err := g.store.FindAlive(ctx, key, req.Method, req.Path)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		cached, rerr := g.resolve(rec, req, params, &outcome)
		if cached != nil {
			logger.InfoContext(ctx, "request already completed, replaying cached response",
				clog.Uint64("record_id", rec.ID))
		}
		if cached != nil || rerr != nil {
			return cached, rerr
		}
		// 上次执行失败、未记录响应：复用记录重新执行，不新建
		logger.InfoContext(ctx, "resuming uncompleted request", clog.Uint64("record_id", rec.ID))
		return g.execute(ctx, logger, rec, work, true, &outcome)
	}

	other, err := g.store.FindAliveByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	switch {
	case other == nil:
	case other.RequestMethod != req.Method || other.RequestPath != req.Path:
		// 同一幂等键已用于其他 method/path
		outcome = OutcomeMismatch
		return nil, ErrRequestMismatch
	default:
		// 两次查询之间并发请求创建了同一三元组的记录
		logger.WarnContext(ctx, "alive record appeared after lookup, resolving race")
		return g.resolveRace(ctx, key, req, params, &outcome)
	}

	rec, err = g.store.Create(ctx, key, req.Method, req.Path, params)
	if errors.Is(err, ErrDuplicateKey) {
		logger.WarnContext(ctx, "alive record created concurrently, resolving race")
		return g.resolveRace(ctx, key, req, params, &outcome)
	}
	if err != nil {
		return nil, err
	}
	return g.execute(ctx, logger, rec, work, false, &outcome)
}

// resolve 处理已存在的存活记录；返回 (nil, nil) 表示记录未完成且可复用执行
func (g *guard) resolve(rec *Record, req Request, params []byte, outcome *string) (*Response, error) {
	switch {
	case !rec.Matches(req.Method, req.Path, params):
		*outcome = OutcomeMismatch
		return nil, ErrRequestMismatch
	case rec.Locked():
		*outcome = OutcomeLocked
		return nil, ErrKeyLocked
	case rec.Completed():
		*outcome = OutcomeReplayed
		return responseOf(rec, true), nil
	default:
		return nil, nil
	}
}

// resolveRace 创建时唯一约束冲突：重新查询并裁决，绝不二次执行
func (g *guard) resolveRace(ctx context.Context, key string, req Request, params []byte, outcome *string) (*Response, error) {
	rec, err := g.store.FindAlive(ctx, key, req.Method, req.Path)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		*outcome = OutcomeStale
		return nil, ErrKeyIsStale
	}
	if resp, err := g.resolve(rec, req, params, outcome); resp != nil || err != nil {
		return resp, err
	}
	*outcome = OutcomeRace
	return nil, ErrRaceConditionDetected
}

func (g *guard) execute(ctx context.Context, logger clog.Logger, rec *Record, work Work, resumed bool, outcome *string) (*Response, error) {
	attempt := &Attempt{store: g.store, rec: rec, resumed: resumed}
	start := time.Now()
	workFailed := false

	err := withLock(ctx, g.store, rec, logger, func(ctx context.Context) error {
		g.inst.inflight.Inc(ctx)
		defer g.inst.inflight.Dec(ctx)
		werr := work(ctx, attempt)
		workFailed = werr != nil
		return werr
	})
	g.inst.duration.Record(ctx, time.Since(start).Seconds())

	if errors.Is(err, ErrAlreadyCompleted) {
		// 读取记录后、加锁前已被并发请求完成
		return g.replayLatest(ctx, rec, outcome)
	}
	if err != nil {
		switch {
		case workFailed:
			*outcome = OutcomeWorkError
		case errors.Is(err, ErrKeyLocked):
			*outcome = OutcomeLocked
		}
		logger.WarnContext(ctx, "unit of work failed", clog.Uint64("record_id", rec.ID), clog.Error(err))
		return nil, err
	}
	if !rec.Completed() {
		*outcome = OutcomeNotSet
		logger.ErrorContext(ctx, "unit of work returned without recording a response",
			clog.Uint64("record_id", rec.ID))
		return nil, ErrResponseNotSet
	}

	*outcome = OutcomeExecuted
	if resumed {
		*outcome = OutcomeResumed
	}
	logger.DebugContext(ctx, "unit of work completed",
		clog.Uint64("record_id", rec.ID),
		clog.Int("status", rec.ResponseStatus))
	return responseOf(rec, false), nil
}

// replayLatest 重新读取记录并重放其响应
func (g *guard) replayLatest(ctx context.Context, rec *Record, outcome *string) (*Response, error) {
	latest, err := g.store.FindAlive(ctx, rec.Key, rec.RequestMethod, rec.RequestPath)
	if err != nil {
		return nil, err
	}
	if latest == nil || !latest.Completed() {
		*outcome = OutcomeRace
		return nil, ErrRaceConditionDetected
	}
	*outcome = OutcomeReplayed
	return responseOf(latest, true), nil
}

func responseOf(rec *Record, replayed bool) *Response {
	return &Response{
		Body:     rec.ResponseBody,
		Status:   rec.ResponseStatus,
		Headers:  rec.Headers(),
		Replayed: replayed,
	}
}
