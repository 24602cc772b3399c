package idem

import (
	"context"
	"errors"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/xerrors"
)

// withLock 加锁后执行 fn，并在任何退出路径上释放锁
//
// fn 的错误原样返回；fn panic 时先释放锁再重新 panic。
// fn 成功而解锁失败时返回解锁错误，fn 失败时解锁错误只记录日志。
func withLock(ctx context.Context, store Store, rec *Record, logger clog.Logger, fn func(ctx context.Context) error) (err error) {
	if lerr := store.Lock(ctx, rec); lerr != nil {
		switch {
		case errors.Is(lerr, ErrAlreadyLocked):
			return ErrKeyLocked
		case errors.Is(lerr, ErrAlreadyCompleted):
			return lerr
		}
		return xerrors.Wrap(lerr, "idem: acquire lock")
	}

	defer func() {
		r := recover()
		// 请求取消后仍需释放锁
		uerr := store.Unlock(context.WithoutCancel(ctx), rec)
		if uerr != nil {
			if r == nil && err == nil {
				err = xerrors.Wrap(uerr, "idem: release lock")
			} else {
				logger.ErrorContext(ctx, "failed to release lock after failed execution",
					clog.Uint64("record_id", rec.ID),
					clog.Error(uerr))
			}
		}
		if r != nil {
			panic(r)
		}
	}()

	return fn(ctx)
}
