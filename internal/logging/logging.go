package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type FileLogger struct {
	Logger  *slog.Logger
	Close   func() error
	Path    string
	Enabled bool
}

func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewFileLogger opens <dataDir>/logs/gateway.log as a JSON sink when debug is
// set. Without debug, or when the file cannot be opened, a Nop logger is
// returned alongside the error.
func NewFileLogger(dataDir string, debug bool) (FileLogger, error) {
	disabled := FileLogger{Logger: Nop(), Close: func() error { return nil }}
	if !debug {
		return disabled, nil
	}
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return disabled, err
	}
	path := filepath.Join(logDir, "gateway.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return disabled, err
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	})
	return FileLogger{
		Logger:  slog.New(handler),
		Close:   file.Close,
		Path:    path,
		Enabled: true,
	}, nil
}

// NewStderrLogger is the CLI logger. stdout stays reserved for command output
// and the stdio RPC stream.
func NewStderrLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Tee fans records out to both loggers' handlers.
func Tee(primary, secondary *slog.Logger) *slog.Logger {
	if primary == nil {
		return secondary
	}
	if secondary == nil {
		return primary
	}
	return slog.New(teeHandler{handlers: []slog.Handler{primary.Handler(), secondary.Handler()}})
}
