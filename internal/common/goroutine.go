// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine launcher
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/ternarybob/arbor"
)

// SafeGo starts fn on its own goroutine. A panic in fn is logged with its
// stack under the given name and does not take the process down.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs a panic in progress. It only works when deferred directly.
func Recover(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}
	reportPanic(logger, name, r, debug.Stack())
}

func reportPanic(logger arbor.ILogger, name string, r any, stack []byte) {
	if logger == nil {
		fmt.Fprintf(os.Stderr, "panic in %s: %v\n%s\n", name, r, stack)
		return
	}
	logger.Error().
		Str("goroutine", name).
		Str("panic", fmt.Sprint(r)).
		Str("stack", string(stack)).
		Msg("Goroutine panicked; recovered")
}
