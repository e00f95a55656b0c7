//go:build nolog
// +build nolog

package build

// LogLevel is unused, every package logger stays disabled.
var LogLevel = "off"

// LoggingType keeps package loggers disabled.
const LoggingType = LogTypeNone
