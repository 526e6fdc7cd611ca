package concurrency

import (
	"go.uber.org/zap"
)

// Logger is the narrow logging surface the primitives need.
// core.Logger and *zap.SugaredLogger both satisfy it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// defaultLogger returns the process-wide zap logger as of the call. It is a
// no-op unless the application installed one with zap.ReplaceGlobals first
// (core.NewLogger does).
func defaultLogger() Logger {
	return zap.S()
}
