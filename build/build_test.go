// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

import (
	"io"
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

// TestNewSubLogger checks that the sub-logger constructor is used in the
// default development build and that a missing constructor disables
// logging.
func TestNewSubLogger(t *testing.T) {
	t.Parallel()

	require.Equal(t, "development", Deployment.String())
	require.False(t, IsProdBuild())
	require.Equal(t, "default", LoggingType.String())

	var requested string
	logger := NewSubLogger("TEST", func(tag string) btclog.Logger {
		requested = tag
		return btclog.Disabled
	})
	require.Equal(t, "TEST", requested)
	require.NotNil(t, logger)

	require.Equal(t, btclog.Disabled, NewSubLogger("NONE", nil))
}

// TestNewSubLoggers checks that every subsystem gets a logger of its own.
func TestNewSubLoggers(t *testing.T) {
	t.Parallel()

	var tags []string
	loggers := NewSubLoggers(func(tag string) btclog.Logger {
		tags = append(tags, tag)
		return btclog.NewBackend(io.Discard).Logger(tag)
	})

	require.Equal(t, Subsystems, tags)
	require.Len(t, loggers, len(Subsystems))
	for _, tag := range Subsystems {
		require.Contains(t, loggers, tag)
	}
	require.Equal(t, "info", LogLevel)
}
