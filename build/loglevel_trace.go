//go:build trace
// +build trace

package build

// LogLevel is the level of stdout package loggers.
var LogLevel = "trace"
