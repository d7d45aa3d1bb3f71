// Package monitoring holds the process-level log hook shared by the
// landmark commands.
package monitoring

import (
	"log"
	"strings"
)

// Logf is the command-level logger. It defaults to log.Printf and may be
// replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Writer adapts Logf to an io.Writer so stream loggers (lidar.SetLogWriters,
// the migration logger) can be routed through it. Each Write is emitted as
// one Logf call with the trailing newline removed.
type Writer struct {
	Prefix string
}

// Write implements io.Writer.
func (w Writer) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		Logf("%s%s", w.Prefix, msg)
	}
	return len(p), nil
}
