// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

import (
	"os"

	"github.com/btcsuite/btclog"
)

// Subsystem tags of the wallet engine. Each package that logs on its own
// registers under one of them.
const (
	// DaemonSubsystem tags the command line tool.
	DaemonSubsystem = "DWLT"

	// WalletSubsystem tags the wallet and the state it owns: key ring,
	// local chain and transaction graph.
	WalletSubsystem = "WLLT"

	// ChainSubsystem tags the scan and sync client.
	ChainSubsystem = "CHNS"

	// EsploraSubsystem tags the Esplora backend.
	EsploraSubsystem = "ESPL"

	// StoreSubsystem tags the change set store.
	StoreSubsystem = "STOR"
)

// Subsystems lists every subsystem tag in display order.
var Subsystems = []string{
	ChainSubsystem,
	DaemonSubsystem,
	EsploraSubsystem,
	StoreSubsystem,
	WalletSubsystem,
}

// LogType selects where package loggers write before a caller hands them a
// logger of its own.
type LogType byte

const (
	// LogTypeNone keeps package loggers disabled.
	LogTypeNone LogType = iota

	// LogTypeStdOut writes package loggers straight to stdout, which is
	// what the stdlog build uses in tests.
	LogTypeStdOut

	// LogTypeDefault defers to the sub-logger constructor of the caller.
	LogTypeDefault
)

// String returns the build tag name of the log type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// NewSubLogger returns the logger a package starts with. genSubLogger may be
// nil, in which case only a stdlog development build logs anything.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil && (Deployment == Production ||
		LoggingType == LogTypeDefault) {

		return genSubLogger(subsystem)
	}

	if Deployment == Development && LoggingType == LogTypeStdOut {
		logger := btclog.NewBackend(os.Stdout).Logger(subsystem)

		level, _ := btclog.LevelFromString(LogLevel)
		logger.SetLevel(level)

		return logger
	}

	return btclog.Disabled
}

// NewSubLoggers returns a logger for every subsystem in Subsystems, keyed by
// tag.
func NewSubLoggers(
	genSubLogger func(string) btclog.Logger) map[string]btclog.Logger {

	loggers := make(map[string]btclog.Logger, len(Subsystems))
	for _, tag := range Subsystems {
		loggers[tag] = NewSubLogger(tag, genSubLogger)
	}

	return loggers
}
