// Package logging provides categorized file-based logging for the memory
// core. Logs are written to <state dir>/logs/ with a file per category.
// When debug mode is off, category loggers are silent no-ops; the audit
// trail (audit.go) is always on because invariants are checked against it.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category identifies the subsystem a log line belongs to.
type Category string

const (
	CategoryBoot      Category = "boot"
	CategoryEngine    Category = "engine"
	CategorySalience  Category = "salience"
	CategoryAttention Category = "attention"
	CategoryTier      Category = "tier"
	CategoryPattern   Category = "pattern"
	CategoryGate      Category = "gate"
	CategoryExtract   Category = "extract"
	CategoryStore     Category = "store"
	CategoryDaemon    Category = "daemon"
	CategoryConfig    Category = "config"
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger bound to one category file. A Logger with
// a nil inner logger is a no-op; every method tolerates that.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	stateMu   sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelInfo
)

// Initialize sets up the logging directory. Call once at startup with the
// state directory and the desired verbosity. Silent no-op when debug is
// off, except for the always-on audit trail.
func Initialize(stateDir string, debug bool, level string) error {
	if stateDir == "" {
		return fmt.Errorf("state dir required")
	}

	stateMu.Lock()
	logsDir = filepath.Join(stateDir, "logs")
	debugMode = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	dir := logsDir
	stateMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	if err := initAudit(stateDir); err != nil {
		return err
	}

	if debug {
		boot := Get(CategoryBoot)
		boot.Info("logging initialized, dir=%s level=%s", dir, level)
	}
	return nil
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return debugMode
}

// Get returns (or creates) the logger for a category. Returns a no-op
// logger when debug mode is off or the file cannot be opened.
func Get(category Category) *Logger {
	stateMu.RLock()
	dir, debug := logsDir, debugMode
	stateMu.RUnlock()
	if !debug || dir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] "+format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] "+format, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] "+format, args...)
}

// Error logs an error. Always written when the logger exists.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] "+format, args...)
}

// Close flushes and closes all open category logs.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
		delete(loggers, cat)
	}
	closeAudit()
}

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures an operation's duration and logs slow ones.
type Timer struct {
	category Category
	op       string
	started  time.Time
}

// SlowThreshold is the duration above which a timed operation is logged
// at warn level.
const SlowThreshold = 250 * time.Millisecond

// StartTimer begins timing an operation in a category.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, started: time.Now()}
}

// Stop ends the timer, logging at debug (or warn when slow).
func (t *Timer) Stop() {
	elapsed := time.Since(t.started)
	l := Get(t.category)
	if elapsed > SlowThreshold {
		l.Warn("%s took %s", t.op, elapsed)
		return
	}
	l.Debug("%s took %s", t.op, elapsed)
}

// =============================================================================
// CATEGORY CONVENIENCE FUNCTIONS
// =============================================================================

// Salience logs to the salience category at info level.
func Salience(format string, args ...interface{}) { Get(CategorySalience).Info(format, args...) }

// SalienceDebug logs to the salience category at debug level.
func SalienceDebug(format string, args ...interface{}) { Get(CategorySalience).Debug(format, args...) }

// Attention logs to the attention category at info level.
func Attention(format string, args ...interface{}) { Get(CategoryAttention).Info(format, args...) }

// AttentionDebug logs to the attention category at debug level.
func AttentionDebug(format string, args ...interface{}) {
	Get(CategoryAttention).Debug(format, args...)
}

// Tier logs to the tier category at info level.
func Tier(format string, args ...interface{}) { Get(CategoryTier).Info(format, args...) }

// Pattern logs to the pattern category at debug level.
func Pattern(format string, args ...interface{}) { Get(CategoryPattern).Debug(format, args...) }

// GateLog logs to the gate category at debug level.
func GateLog(format string, args ...interface{}) { Get(CategoryGate).Debug(format, args...) }

// Store logs to the store category at info level.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs to the store category at debug level.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Daemon logs to the daemon category at info level.
func Daemon(format string, args ...interface{}) { Get(CategoryDaemon).Info(format, args...) }

// Engine logs to the engine category at debug level.
func Engine(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }
