package idem

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/ceyewan/idemguard/xerrors"
)

// 面向调用方的错误，均可用 errors.Is 判断，xerrors.GetCode 返回稳定的错误码
var (
	// ErrInvalidKey 幂等键缺失或不是 UUID v4
	ErrInvalidKey = xerrors.NewCoded("INVALID_KEY", "idempotency key must be a version 4 UUID")

	// ErrInvalidParams 请求参数无法规范化为 JSON
	ErrInvalidParams = xerrors.NewCoded("INVALID_PARAMS", "request params are not valid JSON")

	// ErrRequestMismatch 同一幂等键被用于不同的 method/path/params
	ErrRequestMismatch = xerrors.NewCoded("REQUEST_MISMATCH", "request does not match the original request for this idempotency key")

	// ErrKeyLocked 同一幂等键的请求正在处理中
	ErrKeyLocked = xerrors.NewCoded("KEY_LOCKED", "a request with this idempotency key is in progress")

	// ErrRaceConditionDetected 创建时与并发请求冲突，对方既未加锁也未完成
	ErrRaceConditionDetected = xerrors.NewCoded("RACE_CONDITION_DETECTED", "a concurrent request with this idempotency key was detected")

	// ErrKeyIsStale 创建冲突后再次查询时，冲突记录已离开存活窗口
	ErrKeyIsStale = xerrors.NewCoded("KEY_IS_STALE", "idempotency key collided with an expiring record, use a new key")

	// ErrResponseNotSet 业务函数正常返回但没有记录响应
	ErrResponseNotSet = xerrors.NewCoded("RESPONSE_NOT_SET", "unit of work returned without recording a response")
)

// 存储层错误，由 Guard 在边界处转换，不直接面向调用方
var (
	// ErrDuplicateKey 存储层检测到同一三元组已有存活记录
	ErrDuplicateKey = xerrors.New("idem: duplicate alive record")

	// ErrAlreadyLocked 加锁时记录已被锁定
	ErrAlreadyLocked = xerrors.New("idem: record already locked")

	// ErrAlreadyCompleted 加锁时记录已记录响应
	ErrAlreadyCompleted = xerrors.New("idem: record already completed")

	// ErrNotLocked 解锁时记录未被锁定
	ErrNotLocked = xerrors.New("idem: record not locked")

	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("idem: config is nil")
)

// HTTPStatus 返回错误对应的 HTTP 状态码，未知错误返回 500
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidParams), errors.Is(err, ErrKeyIsStale):
		return http.StatusBadRequest
	case errors.Is(err, ErrRequestMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrKeyLocked), errors.Is(err, ErrRaceConditionDetected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode 返回错误对应的 gRPC 状态码，未知错误返回 Internal
func GRPCCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidParams), errors.Is(err, ErrKeyIsStale):
		return codes.InvalidArgument
	case errors.Is(err, ErrRequestMismatch):
		return codes.FailedPrecondition
	case errors.Is(err, ErrKeyLocked), errors.Is(err, ErrRaceConditionDetected):
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// IsGuardError 判断错误是否由幂等保护本身产生（而非业务函数）
func IsGuardError(err error) bool {
	for _, target := range []error{
		ErrInvalidKey, ErrInvalidParams, ErrRequestMismatch, ErrKeyLocked,
		ErrRaceConditionDetected, ErrKeyIsStale, ErrResponseNotSet,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
