package pledgetesting

import (
	"log/slog"
	"os"
)

// NewLogger returns a quiet logger for tests. Set DEBUG=1 or DEBUG=2 to get
// info or debug output while debugging a failing test.
func NewLogger() *slog.Logger {
	debugLevel := os.Getenv("DEBUG")
	var level slog.Level
	switch debugLevel {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
