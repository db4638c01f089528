package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// Trace logs entry and exit of op around fn. Errors are logged and returned
// unchanged; panics are logged and re-raised.
func Trace(logger *zap.Logger, op string, fn func() error) error {
	_, err := TraceValue(logger, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// TraceValue is Trace for operations that produce a value.
func TraceValue[T any](logger *zap.Logger, op string, fn func() (T, error)) (T, error) {
	logger.Info(fmt.Sprintf("Starting '%s'...", op))
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("Error occurred in '%s'", op), zap.Any("panic", r))
			panic(r)
		}
	}()

	value, err := fn()
	if err != nil {
		logger.Error(fmt.Sprintf("Error occurred in '%s'", op), zap.Error(err))
		return value, err
	}
	logger.Info(fmt.Sprintf("Finished '%s' successfully.", op))
	return value, nil
}
