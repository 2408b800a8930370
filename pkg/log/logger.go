package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger groups the category loggers used across the process. Each category
// writes to its own rotated file and is teed to the console.
type Logger struct {
	application *slog.Logger
	discord     *slog.Logger
	sync        *slog.Logger
	api         *slog.Logger
	rotators    []*lumberjack.Logger
}

// GlobalLogger is set by SetupLogger and used by the package-level accessors.
var GlobalLogger *Logger

var setupOnce sync.Once

// SetupLogger initializes the global logger. Log files are written under
// GALACTICA_LOG_DIR (default "logs"). It is idempotent.
func SetupLogger() error {
	var err error
	setupOnce.Do(func() {
		dir := strings.TrimSpace(os.Getenv("GALACTICA_LOG_DIR"))
		if dir == "" {
			dir = "logs"
		}
		GlobalLogger, err = newLogger(dir)
	})
	return err
}

func newLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l := &Logger{}
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	build := func(name string) *slog.Logger {
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(dir, name+".log"),
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		l.rotators = append(l.rotators, rotator)
		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, rotator), &slog.HandlerOptions{Level: level})
		return slog.New(handler).With("category", name)
	}

	l.application = build("application")
	l.discord = build("discord")
	l.sync = build("sync")
	l.api = build("api")
	return l, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Sync closes the underlying rotated files. Safe to call on shutdown.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	for _, r := range l.rotators {
		_ = r.Close()
	}
}

// ApplicationLogger returns the logger for process lifecycle events.
func ApplicationLogger() *slog.Logger {
	return category(func(l *Logger) *slog.Logger { return l.application })
}

// DiscordLogger returns the logger for gateway/session events.
func DiscordLogger() *slog.Logger {
	return category(func(l *Logger) *slog.Logger { return l.discord })
}

// SyncLogger returns the logger for the configuration sync client.
func SyncLogger() *slog.Logger {
	return category(func(l *Logger) *slog.Logger { return l.sync })
}

// APILogger returns the logger for the management API service.
func APILogger() *slog.Logger {
	return category(func(l *Logger) *slog.Logger { return l.api })
}

func category(pick func(*Logger) *slog.Logger) *slog.Logger {
	if GlobalLogger == nil {
		return slog.Default()
	}
	return pick(GlobalLogger)
}
