// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// File additionally writes JSON logs to a rotated file when set.
	File FileConfig
}

// FileConfig configures the rotated log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
		File: FileConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

var (
	fileMu     sync.Mutex
	fileWriter *lumberjack.Logger
)

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	if cfg.File.Path != "" {
		output = zerolog.MultiLevelWriter(output, openFile(cfg.File))
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// openFile replaces the rotated log file writer, closing the previous one.
func openFile(cfg FileConfig) io.Writer {
	fileMu.Lock()
	defer fileMu.Unlock()

	if fileWriter != nil {
		fileWriter.Close()
	}
	fileWriter = &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return fileWriter
}

// Close flushes and closes the log file opened by Setup, if any.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()

	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit, store)
//   - Worker start/stop, retry backoff
//   - Rate limit cooldown waits
//
// Info: Normal operation events
//   - Batch start and completion
//   - Periodic fetch progress with ETA
//   - Files written, gap reports
//
// Warn: Warning conditions that don't prevent operation
//   - Failed epochs (the batch continues)
//   - 429 cooldowns, retry exhaustion
//   - Cache or redis errors (fallback to direct request)
//
// Error: Error conditions requiring attention
//   - Configuration errors
//   - Output files that cannot be written
//   - Store failures
//
// Context Fields:
//   - component: beacon-client, batch-fetcher, ratelimit, cli
//   - epoch: Epoch being fetched
//   - status: HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network)
//   - done, total, failed, eta: Batch progress
//   - path: Output or input file
//
// Beacon URLs may carry provider tokens and are only logged through client.RedactURL.
