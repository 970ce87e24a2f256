package llm

import (
	"context"
	"errors"

	"ragcompare/backend/go/internal/apperr"
)

// unavailable 把后端错误归类为 ModelUnavailableError。调用方主动取消以及已分类的错误保持原样。
func unavailable(err error, format string, args ...any) error {
	if isCancellation(err) {
		return err
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.KindModelUnavailable, err, format, args...)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
