// Package xerrors 提供 idemguard 各组件共享的错误处理工具。
//
// 约定：
//   - 组件内的哨兵错误使用 New 或 NewCoded 定义在 errors.go 中
//   - 跨层传递时使用 Wrap/Wrapf 追加上下文，保留错误链
//   - 需要向调用方暴露机器可读错误码时使用 CodedError
package xerrors

import (
	"errors"
	"fmt"
)

// ============================================================================
// 通用哨兵错误
// ============================================================================

var (
	// ErrInvalidInput 参数或配置不合法
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")
	// ErrConflict 资源状态冲突
	ErrConflict = errors.New("conflict")
	// ErrUnavailable 依赖的外部服务不可用
	ErrUnavailable = errors.New("unavailable")
)

// ============================================================================
// 包装
// ============================================================================

// Wrap 用上下文信息包装错误，保留错误链。err 为 nil 时返回 nil。
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 用格式化的上下文信息包装错误。
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// 错误码
// ============================================================================

// CodedError 带有机器可读错误码的错误。
type CodedError struct {
	Code  string
	Cause error
}

// NewCoded 创建一个带错误码的哨兵错误，适合定义为包级变量后用 errors.Is 比较。
func NewCoded(code, msg string) *CodedError {
	return &CodedError{Code: code, Cause: errors.New(msg)}
}

// WithCode 用错误码包装错误。
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("[%s]", e.Code)
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// Message 返回不带错误码前缀的描述。
func (e *CodedError) Message() string {
	if e.Cause == nil {
		return e.Code
	}
	return e.Cause.Error()
}

// GetCode 从错误链中提取最外层的错误码，没有则返回空字符串。
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// ============================================================================
// 初始化辅助
// ============================================================================

// Must 如果 err 不为 nil，则 panic。仅用于初始化阶段。
func Must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("must: %v", err))
	}
	return v
}

// ============================================================================
// 聚合
// ============================================================================

// Collector 收集多个错误，保留第一个。
type Collector struct {
	err error
}

func (c *Collector) Collect(err error) {
	if err != nil && c.err == nil {
		c.err = err
	}
}

func (c *Collector) Err() error {
	return c.err
}

// MultiError 合并多个错误。
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%v (and %d more errors)", m.Errors[0], len(m.Errors)-1)
}

func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Combine 将多个错误合并为一个，全部为 nil 时返回 nil。
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &MultiError{Errors: nonNil}
	}
}

// 标准库函数再导出
var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)
