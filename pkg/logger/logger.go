// Package logger is the run-wide log sink. Messages go to a file inside the
// report directory and, in verbose mode, to stderr as well.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	globalLogger zerolog.Logger = zerolog.Nop()
	logFile      *os.File
	mu           sync.Mutex
)

// Options controls where log output goes.
type Options struct {
	// Verbose mirrors debug output to stderr.
	Verbose bool
	// Console overrides the stderr writer (tests).
	Console io.Writer
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string, opts ...Options) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	logFile = f

	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	fileWriter := zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: "15:04:05.000000"}
	level := zerolog.DebugLevel

	var w io.Writer = fileWriter
	if o.Verbose {
		console := o.Console
		if console == nil {
			console = os.Stderr
		}
		w = zerolog.MultiLevelWriter(fileWriter, zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen})
	}

	globalLogger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	return nil
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	globalLogger = zerolog.Nop()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Info().Msgf(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Debug().Msgf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Error().Msgf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Warn().Msgf(format, v...)
}
