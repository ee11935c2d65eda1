// Package glog is the one package-level logger the rest of gtags
// calls through, mirroring how containerd-nydus-snapshotter's
// pkg/logger wraps a single logrus.Entry instead of letting every
// package construct its own. spec §6: GTAGSLOGGING names a file that
// receives verbose/warning output instead of stderr, read once at
// initialization.
package glog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.Mutex
	logger = logrus.New()
	file   *os.File
)

func init() {
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)
}

// Init points the logger at GTAGSLOGGING's target, or leaves it on
// stderr if the variable is unset or empty. Safe to call more than
// once (tests redirect it per-case).
func Init(gtagsLogging string) error {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}

	if gtagsLogging == "" {
		logger.SetOutput(os.Stderr)
		return nil
	}

	f, err := os.OpenFile(gtagsLogging, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	file = f
	logger.SetOutput(f)
	return nil
}

// SetVerbose toggles debug-level logging (the driver's -v flag).
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	if v {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput lets tests capture log output directly.
func SetOutput(w interface{ Write([]byte) (int, error) }) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// With returns a field-scoped entry, the normal way to log from a
// component (e.g. glog.With("fid", 7).Warn("dangling record")).
func With(key string, value any) *logrus.Entry {
	return logger.WithField(key, value)
}

// WithFields returns a multi-field-scoped entry.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// Warn logs a ParseWarning-class message (spec §7): only emitted when
// the caller's WARNING flag is on, so components gate the call, not
// this package.
func Warn(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Debug logs a verbose-mode message.
func Debug(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Info logs a normal-mode progress message.
func Info(format string, args ...any) {
	logger.Infof(format, args...)
}

// Error logs a surfaced, non-fatal error for visibility before it
// propagates to the caller.
func Error(format string, args ...any) {
	logger.Errorf(format, args...)
}
