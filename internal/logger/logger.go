package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// filePrefix names the daily log files: finmate-YYYY-MM-DD.log
const filePrefix = "finmate-"

// ParseLevel maps a config string to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger writes structured JSON records to a daily rotating file
type Logger struct {
	mu          sync.Mutex
	logDir      string
	maxDays     int
	currentFile *os.File
	currentDate string
	now         func() time.Time

	slog *slog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Config logger configuration
type Config struct {
	LogDir     string     // Log directory
	Level      slog.Level // Minimum level
	MaxDays    int        // Max days to keep logs
	ConsoleOut bool       // Mirror records to stderr
}

// Init initializes the default logger
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		defaultLogger, err = NewLogger(cfg)
	})
	return err
}

// NewLogger creates a new logger instance
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = 7
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{
		logDir:  cfg.LogDir,
		maxDays: cfg.MaxDays,
		now:     time.Now,
	}

	if err := l.rotateIfNeeded(); err != nil {
		return nil, err
	}

	var out io.Writer = l
	if cfg.ConsoleOut {
		out = io.MultiWriter(l, os.Stderr)
	}
	l.slog = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level}))

	return l, nil
}

// rotateIfNeeded opens a new file when the date changes. Caller holds mu or
// is the constructor.
func (l *Logger) rotateIfNeeded() error {
	today := l.now().Format("2006-01-02")
	if l.currentDate == today && l.currentFile != nil {
		return nil
	}

	if l.currentFile != nil {
		l.currentFile.Close()
	}

	filename := filepath.Join(l.logDir, filePrefix+today+".log")
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.currentFile = f
	l.currentDate = today

	go l.cleanOldLogs()

	return nil
}

// cleanOldLogs removes log files older than maxDays
func (l *Logger) cleanOldLogs() {
	files, err := filepath.Glob(filepath.Join(l.logDir, filePrefix+"*.log"))
	if err != nil {
		return
	}

	if len(files) <= l.maxDays {
		return
	}

	// file names sort by date
	sort.Strings(files)

	for i := 0; i < len(files)-l.maxDays; i++ {
		os.Remove(files[i])
	}
}

// Write implements io.Writer for the slog handler; one call per record
func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		fmt.Fprintf(os.Stderr, "Logger rotation error: %v\n", err)
		return 0, err
	}
	return l.currentFile.Write(p)
}

// Slog exposes the structured logger
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close closes the logger
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile != nil {
		err := l.currentFile.Close()
		l.currentFile = nil
		return err
	}
	return nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))

// L returns the default structured logger, or a discarding one before Init
func L() *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger.slog
	}
	return discard
}

// With returns the default logger annotated with the given attributes
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// Debug logs a debug message using the default logger
func Debug(msg string, args ...any) {
	L().Log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs an info message using the default logger
func Info(msg string, args ...any) {
	L().Log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, args ...any) {
	L().Log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs an error message using the default logger
func Error(msg string, args ...any) {
	L().Log(context.Background(), slog.LevelError, msg, args...)
}

// Close closes the default logger
func Close() error {
	if defaultLogger != nil {
		return defaultLogger.Close()
	}
	return nil
}

// GetDefault returns the default logger
func GetDefault() *Logger {
	return defaultLogger
}
