package validation

import (
	"errors"
	"strings"
)

// Error 聚合一次校验中的全部问题。
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "validation: " + strings.Join(e.Problems, "; ")
}

// Problems 从错误链中取出校验问题，非校验错误返回 nil。
func Problems(err error) []string {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Problems
	}
	return nil
}
