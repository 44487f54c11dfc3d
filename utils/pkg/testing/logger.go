package pooltesting

import (
	"log/slog"
	"os"
)

// NewLogger returns a test logger whose level follows the DEBUG env var
// (2 = debug, 1 = info, otherwise errors only).
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
