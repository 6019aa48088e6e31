package strategy

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示注册表中不存在该策略。
	ErrNotFound = errors.New("strategy: not found")
	// ErrNotTerminal 表示策略仍在运行，不能被移除。
	ErrNotTerminal = errors.New("strategy: not in a terminal state")
	// ErrUnsupportedKind 表示该类型策略不支持此操作。
	ErrUnsupportedKind = errors.New("strategy: operation not supported for kind")
)

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// InternalError 表示策略执行中出现的意外故障，例如恢复的 panic。
type InternalError struct {
	Op    string
	Cause interface{}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("strategy: %s 内部错误: %v", e.Op, e.Cause)
}

// Unwrap 在 Cause 为 error 时返回它。
func (e *InternalError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}
