//go:build debug && !trace
// +build debug,!trace

package build

// LogLevel is the level of stdout package loggers.
var LogLevel = "debug"
