// Package monitoring holds the diagnostic loggers shared by the eye-tracker
// packages.
package monitoring

import (
	"log"
	"time"

	"tailscale.com/types/logger"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// CycleLogf returns a logger for use inside the processing callback. Each
// distinct format string is limited to burst lines per interval so a
// misbehaving device cannot flood the log from the real-time path.
func CycleLogf(interval time.Duration, burst int) func(format string, v ...interface{}) {
	return logger.RateLimitedFn(func(format string, v ...any) {
		Logf(format, v...)
	}, interval, burst, 64)
}
