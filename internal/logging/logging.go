// Package logging wraps gopkg.in/op/go-logging.v1 into a small backend
// that every Accord component obtains named loggers from.
package logging

import (
	"fmt"
	"io"
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

// Backend owns the process-wide logging configuration and mints
// per-component loggers.
type Backend struct {
	file *os.File
}

// New builds a Backend writing at the given level (one of DEBUG, INFO,
// NOTICE, WARNING, ERROR, CRITICAL) to stderr, and additionally to
// filePath when mirrorToFile is true.
func New(filePath string, level string, mirrorToFile bool) (*Backend, error) {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	b := &Backend{}
	var writers []io.Writer
	writers = append(writers, os.Stderr)

	if mirrorToFile {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("logging: failed to open %q: %w", filePath, err)
		}
		b.file = f
		writers = append(writers, f)
	}

	backend := logging.NewLogBackend(io.MultiWriter(writers...), "", 0)
	formatter := logging.NewBackendFormatter(backend, logging.MustStringFormatter(logFormat))
	leveled := logging.AddModuleLevel(formatter)
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)

	return b, nil
}

// GetLogger returns a named logger; the name appears as %{module} in
// every line it emits.
func (b *Backend) GetLogger(name string) *logging.Logger {
	return logging.MustGetLogger(name)
}

// Close releases the mirrored log file, if any.
func (b *Backend) Close() error {
	if b.file != nil {
		return b.file.Close()
	}
	return nil
}
