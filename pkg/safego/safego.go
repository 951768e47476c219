package safego

import (
	"context"

	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery. A panic is logged with the
// goroutine's name and stack instead of crashing the process.
//
// Usage:
//
//	safego.Go(logger, "audit-writer", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}

// GoCtx launches a panic-recovered goroutine that receives a context.
// Long-running subscribers use this so shutdown cancellation reaches them.
func GoCtx(ctx context.Context, logger *zap.Logger, name string, fn func(ctx context.Context)) {
	Go(logger, name, func() {
		fn(ctx)
	})
}
