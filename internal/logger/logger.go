package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// Debug level for detailed troubleshooting
	Debug LogLevel = iota
	// Info level for general operational entries
	Info
	// Warn level for non-critical issues
	Warn
	// Error level for errors that need attention
	Error
)

var levelNames = map[LogLevel]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

// String returns the upper-case name of the level.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// DirMode defines platform-specific directory permissions
var DirMode os.FileMode

func init() {
	if runtime.GOOS == "windows" {
		DirMode = 0666
	} else {
		DirMode = 0755
	}
}

// Logger writes leveled messages to stdout and, optionally, a rotating file.
type Logger struct {
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	level       LogLevel
	mu          sync.Mutex
	rotator     *lumberjack.Logger
	out         io.Writer
}

var (
	defaultLogger *Logger
	defaultMu     sync.Mutex
)

// Config holds logger configuration
type Config struct {
	// LogLevel sets the minimum level to log
	LogLevel LogLevel
	// LogFile is the path to the log file. If empty, logs go to stdout only
	LogFile string
	// MaxSizeMB is the size in megabytes at which the log file is rotated
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept
	MaxBackups int
	// MaxAgeDays removes rotated files older than this many days (0 keeps them)
	MaxAgeDays int
	// Compress gzips rotated files
	Compress bool
	// Stdout overrides the console writer; nil means os.Stdout
	Stdout io.Writer
}

// Initialize replaces the default logger with one built from config.
func Initialize(config Config) error {
	l, err := NewLogger(config)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	old := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// NewLogger creates a new logger instance
func NewLogger(config Config) (*Logger, error) {
	console := config.Stdout
	if console == nil {
		console = os.Stdout
	}
	writers := []io.Writer{console}

	var rotator *lumberjack.Logger
	if config.LogFile != "" {
		config.LogFile = filepath.Clean(config.LogFile)

		logDir := filepath.Dir(config.LogFile)
		if err := os.MkdirAll(logDir, DirMode); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		rotator = &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
		writers = append(writers, rotator)
	}

	multiWriter := io.MultiWriter(writers...)
	flags := log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

	return &Logger{
		debugLogger: log.New(multiWriter, "DEBUG: ", flags),
		infoLogger:  log.New(multiWriter, "INFO: ", flags),
		warnLogger:  log.New(multiWriter, "WARN: ", flags),
		errorLogger: log.New(multiWriter, "ERROR: ", flags),
		level:       config.LogLevel,
		rotator:     rotator,
		out:         multiWriter,
	}, nil
}

// Close closes the rotating file if one is open
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Rotate forces the log file to roll over, e.g. on SIGHUP.
func (l *Logger) Rotate() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Rotate()
}

// Writer returns the underlying destination so the standard library logger
// can share the same outputs.
func (l *Logger) Writer() io.Writer {
	return l.out
}

// Level returns the minimum level this logger emits.
func (l *Logger) Level() LogLevel {
	return l.level
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= Debug {
		l.debugLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= Info {
		l.infoLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= Warn {
		l.warnLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= Error {
		l.errorLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// GetLogger returns the default logger. Before Initialize is called it
// returns a stdout logger at Info level.
func GetLogger() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger, _ = NewLogger(Config{LogLevel: Info})
	}
	return defaultLogger
}

// ParseLogLevel converts a string level to LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level: %s", level)
	}
}
