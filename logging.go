package parslet

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures a package-wide slog logger: JSON if
// PARSLET_JSON_LOG is 1/true/json, text otherwise. Level is taken from
// PARSLET_LOG_LEVEL (debug/info/warn/error, default info). component
// identifies the subsystem ("runner", "cache", "watcher", ...) in every
// record it emits.
func InitLogging(component string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("PARSLET_JSON_LOG"))
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: logLevelFromEnv()}
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("component", component)
	slog.SetDefault(logger)
	return logger
}

func logLevelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("PARSLET_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
