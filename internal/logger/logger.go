// Package logger wires zerolog exactly the way the teacher repo does: a
// package-level pretty-console Log by default, a JSON toggle for
// production, and per-context child loggers.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var Log zerolog.Logger

func init() {
	// Pretty console output for development
	// For production JSON, remove ConsoleWriter and use: zerolog.New(os.Stdout)
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	Log = zerolog.New(output).
		With().
		Timestamp().
		Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetJSONOutput switches to JSON logging (for production)
func SetJSONOutput() {
	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

// SetDebugLevel enables debug logging
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// SessionLogger returns a logger scoped to one peer session, the
// session-layer analogue of the teacher's PeerLogger(region, addr).
func SessionLogger(host string, port uint16) zerolog.Logger {
	return Log.With().
		Str("host", host).
		Uint16("port", port).
		Logger()
}
