package concurrency

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// SafeGo runs a function in a goroutine with panic recovery.
func SafeGo(fn func(), onPanic func(interface{})) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				slog.Error("Panic recovered", "panic", r, "stack", string(stack))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// Every calls fn on each tick until ctx is done. The returned func stops the
// ticker and waits for the goroutine to exit. A non-positive interval is a no-op.
func Every(ctx context.Context, interval time.Duration, fn func(time.Time)) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	SafeGo(func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				fn(t)
			}
		}
	}, nil)

	return func() {
		cancel()
		<-done
	}
}
