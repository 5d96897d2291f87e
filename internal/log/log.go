package log

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// FileOptions enables a rotating log file next to stderr output.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

var (
	mu       sync.RWMutex
	level    = new(slog.LevelVar)
	logger   *slog.Logger
	initOnce sync.Once
	rotator  *lumberjack.Logger
)

// initLogger initializes the global logger to write to stderr.
func initLogger() {
	initOnce.Do(func() {
		level.Set(slog.LevelInfo)
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	})
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		level.Set(slog.LevelDebug)
	case LevelError:
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, "debug":
		return LevelDebug
	case LevelError, "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetFile tees log output into a size-rotated file. An empty path restores
// stderr-only output.
func SetFile(opts FileOptions) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()

	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}

	var w io.Writer = os.Stderr
	if opts.Path != "" {
		rotator = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		w = io.MultiWriter(os.Stderr, rotator)
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetOutput redirects all output to w. Used by tests.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Error(msg, extended...)
}

func current() *slog.Logger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
