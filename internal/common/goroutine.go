// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineStats counts the goroutines started through SafeGo
var goroutineStats struct {
	started atomic.Int64
	running atomic.Int64
	panics  atomic.Int64
}

// GoroutineStats reports how many SafeGo goroutines were started, are still running and have panicked
func GoroutineStats() (started, running, panics int64) {
	return goroutineStats.started.Load(), goroutineStats.running.Load(), goroutineStats.panics.Load()
}

// SafeGo runs fn on its own goroutine. A panic is logged with its stack and ends only that
// goroutine: dial attempts, poll ticks and terminal handlers all run through here.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	goroutineStats.started.Add(1)
	goroutineStats.running.Add(1)

	go func() {
		defer goroutineStats.running.Add(-1)
		defer recoverGoroutine(logger, name)
		fn()
	}()
}

func recoverGoroutine(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}
	goroutineStats.panics.Add(1)
	stack := string(debug.Stack())

	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stack)
		return
	}
	logger.Error().
		Str("goroutine", name).
		Str("panic", fmt.Sprint(r)).
		Str("stack", stack).
		Msg("Goroutine panicked, client keeps running")
}
