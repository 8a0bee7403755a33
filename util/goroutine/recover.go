// Package goroutine provides panic recovery for background goroutines.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// stackBufferSize is the buffer size for stack trace collection.
const stackBufferSize = 4096

// Recover recovers from a panic in a background goroutine and logs it so
// a single misbehaving task cannot take the process down. Falls back to
// stderr when no logger is available.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, stackBufferSize)
		n := runtime.Stack(buf, false)

		if logger != nil {
			logger.Errorw("Goroutine panic recovered",
				"goroutine", name,
				"panic", r,
				"stack", string(buf[:n]))
		} else {
			fmt.Fprintf(os.Stderr, "panic in goroutine %s: %v\n%s\n", name, r, string(buf[:n]))
		}
	}
}

// Go runs fn in a new goroutine with panic recovery attached.
func Go(name string, logger *zap.SugaredLogger, fn func()) {
	go func() {
		defer Recover(name, logger)
		fn()
	}()
}
