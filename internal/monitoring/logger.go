package monitoring

import (
	"log"
	"time"
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

// Timed logs the start of step and returns a func that logs its duration.
//
//	defer monitoring.Timed("save run")()
func Timed(step string) func() {
	start := time.Now()
	Logf("%s: started", step)
	return func() {
		Logf("%s: done in %v", step, time.Since(start).Round(time.Millisecond))
	}
}
