// Package logctx centralizes the btclog backend that every package's own
// per-subsystem logger routes through, following lnd's log.go convention.
package logctx

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Backend is the shared btclog backend all subsystem loggers write to.
var Backend = btclog.NewBackend(os.Stdout)

// Disabled is btclog's no-op logger, for code that has no subsystem logger
// assigned.
var Disabled = btclog.Disabled

// rotatingFile, once set by InitLogRotator, is written to in addition to
// stdout.
var rotatingFile *rotator.Rotator

// NewSubsystem returns a fresh logger tagged with subsystemID; the
// composition root in cmd/relayd assigns its package logger this way.
func NewSubsystem(subsystemID string) btclog.Logger {
	return Backend.Logger(subsystemID)
}

// InitLogRotator creates a rotating file logger that duplicates output from
// the stdout backend, mirroring lnd's build/logrotator.go.
func InitLogRotator(logFile string, maxSize, maxRolls int) error {
	r, err := rotator.New(logFile, int64(maxSize*1024), false, maxRolls)
	if err != nil {
		return err
	}
	rotatingFile = r
	Backend = btclog.NewBackend(logWriter{})
	return nil
}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if rotatingFile != nil {
		rotatingFile.Write(p)
	}
	return len(p), nil
}
