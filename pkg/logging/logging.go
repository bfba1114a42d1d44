// Package logging wraps charmbracelet/log for PeerTrade: leveled key/value
// logging to the console, optionally teed into a rotating log file.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a log level.
type Level = log.Level

const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
)

// Output formats accepted in Config.Format.
const (
	FormatText   = "text"
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

// Logger is a charmbracelet logger that remembers how it was built, so
// component loggers share its output and format.
type Logger struct {
	*log.Logger
	opts   log.Options
	output io.Writer
}

// Config holds logger configuration.
type Config struct {
	Level      string
	Format     string
	TimeFormat string
	Prefix     string
	Output     io.Writer

	// File, when set, receives a copy of every line. It is rotated at
	// MaxSizeMB and old files are kept for MaxAgeDays.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig logs info and above as text to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     FormatText,
		TimeFormat: time.TimeOnly,
		Output:     os.Stderr,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// New creates a logger from cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.File != "" {
		output = io.MultiWriter(output, FileWriter(cfg))
	}

	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Prefix:          cfg.Prefix,
		Formatter:       ParseFormat(cfg.Format),
		Level:           ParseLevel(cfg.Level),
	}
	return &Logger{Logger: log.NewWithOptions(output, opts), opts: opts, output: output}
}

// FileWriter returns a rotating writer for cfg.File.
func FileWriter(cfg *Config) io.Writer {
	_ = os.MkdirAll(filepath.Dir(cfg.File), 0700)
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	cfg := DefaultConfig()
	cfg.Output = io.Discard
	return New(cfg)
}

// ParseLevel maps a level name to a Level. Unknown names mean info.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// ParseFormat maps a format name to a formatter. Unknown names mean text.
func ParseFormat(format string) log.Formatter {
	switch strings.ToLower(format) {
	case FormatLogfmt:
		return log.LogfmtFormatter
	case FormatJSON:
		return log.JSONFormatter
	default:
		return log.TextFormatter
	}
}

// With returns a logger that adds keyvals to every line.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...), opts: l.opts, output: l.output}
}

// Component returns a logger prefixed with name, sharing l's output,
// format and current level.
func (l *Logger) Component(name string) *Logger {
	opts := l.opts
	opts.Prefix = name
	opts.Level = l.GetLevel()
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.TimeOnly
	}
	output := l.output
	if output == nil {
		output = os.Stderr
	}
	return &Logger{Logger: log.NewWithOptions(output, opts), opts: opts, output: output}
}

// Trade returns a logger that tags every line with a trade key.
func (l *Logger) Trade(key string) *Logger {
	return l.With("trade", key)
}

// OrDefault returns l, or a component of the default logger when l is nil.
func OrDefault(l *Logger, component string) *Logger {
	if l != nil {
		return l
	}
	return GetDefault().Component(component)
}

var defaultLogger = New(nil)

// SetDefault replaces the logger OrDefault falls back to.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// GetDefault returns the fallback logger.
func GetDefault() *Logger {
	return defaultLogger
}
