package domain

import (
	"errors"
	"fmt"
)

// 错误分类（HTTP 层据此映射状态码）
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrMisconfigured      = errors.New("misconfigured")
)

// 具体错误，均包装上面的分类
var (
	ErrInvalidIdentifier       = fmt.Errorf("%w: empty or malformed identifier", ErrInvalidInput)
	ErrDeviceNotFound          = fmt.Errorf("%w: device not found", ErrNotFound)
	ErrThresholdsNotConfigured = fmt.Errorf("%w: thresholds not configured", ErrMisconfigured)
	ErrNoRecentData            = fmt.Errorf("%w: no recent snapshot in window", ErrNotFound)
)

// Unavailable 将底层存储错误包装为 ErrStorageUnavailable
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
