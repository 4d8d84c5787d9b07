package executor

import (
	"errors"
	"fmt"
	"time"

	"yqhp/planfleet/internal/plan"
)

// ExecutorError 表示执行器操作中的错误。
type ExecutorError struct {
	Code    ErrorCode
	Message string
	Kind    plan.Kind
	Cause   error
}

// ErrorCode 表示执行器错误类型。
type ErrorCode string

const (
	// ErrCodeNotFound 表示未找到执行器。
	ErrCodeNotFound ErrorCode = "EXECUTOR_NOT_FOUND"
	// ErrCodeExecution 表示执行失败。
	ErrCodeExecution ErrorCode = "EXECUTION_ERROR"
	// ErrCodeTimeout 表示超时。
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"
	// ErrCodeConfig 表示任务参数错误。
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"
)

// Error 实现 error 接口。
func (e *ExecutorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误。
func (e *ExecutorError) Unwrap() error {
	return e.Cause
}

// NewExecutorNotFoundError 创建执行器不存在错误。
func NewExecutorNotFoundError(kind plan.Kind) *ExecutorError {
	return &ExecutorError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("no executor registered for kind: %s", kind),
		Kind:    kind,
	}
}

// NewExecutionError 创建执行失败错误。
func NewExecutionError(kind plan.Kind, message string, cause error) *ExecutorError {
	return &ExecutorError{
		Code:    ErrCodeExecution,
		Message: message,
		Kind:    kind,
		Cause:   cause,
	}
}

// NewTimeoutError 创建超时错误。
func NewTimeoutError(kind plan.Kind, timeout time.Duration, cause error) *ExecutorError {
	return &ExecutorError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("timed out after %v", timeout),
		Kind:    kind,
		Cause:   cause,
	}
}

// NewConfigError 创建参数错误。
func NewConfigError(kind plan.Kind, message string, cause error) *ExecutorError {
	return &ExecutorError{
		Code:    ErrCodeConfig,
		Message: message,
		Kind:    kind,
		Cause:   cause,
	}
}

// IsNotFoundError 检查是否为执行器不存在错误。
func IsNotFoundError(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsTimeoutError 检查是否为超时错误。
func IsTimeoutError(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsConfigError 检查是否为参数错误。
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeConfig)
}

func hasCode(err error, code ErrorCode) bool {
	var execErr *ExecutorError
	if errors.As(err, &execErr) {
		return execErr.Code == code
	}
	return false
}
