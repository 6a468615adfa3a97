package utils

import (
	"os"
	"sync"
)

var SHUTDOWN_ONCE sync.Once

var shutdownHooks []func()

// RegisterShutdownHook queues fn to run during GracefulShutdown, in
// registration order. Not safe to call concurrently with GracefulShutdown.
func RegisterShutdownHook(fn func()) {
	shutdownHooks = append(shutdownHooks, fn)
}

func GracefulShutdown() {

	SHUTDOWN_ONCE.Do(func() {

		LogWithTime("Stop signal has been initiated.Keep waiting...", CYAN_COLOR)

		for _, fn := range shutdownHooks {
			fn()
		}

		LogWithTime("Daemon was gracefully stopped", GREEN_COLOR)

		os.Exit(0)

	})

}
