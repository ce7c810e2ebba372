//go:build !windows

package signalwatcher

import (
	"os"
	"os/signal"
	"syscall"
)

// Watch invokes the callback for every SIGINT or SIGTERM delivered to the
// process. The callback runs on its own goroutine; delivery keeps working
// while a previous callback is still running, which is what lets a second
// signal force an exit during graceful teardown.
func Watch(callback func(Signal)) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		for sig := range signals {
			if sig == syscall.SIGTERM {
				go callback(TERM)
			} else {
				go callback(INT)
			}
		}
	}()
}
