// Package log sets up the process-wide slog logger and names the
// attribute keys the middleware and handlers share.
package log

import (
	"log/slog"
	"os"
)

// Config controls handler selection for New. A nil Handler means a
// text handler on stdout at the configured level.
type Config struct {
	Level     slog.Level
	Component string
	Handler   slog.Handler
}

func DefaultConfig() Config {
	return Config{Level: slog.LevelInfo, Component: ComponentApp}
}

// New builds a logger with the component baked in as an attribute, so
// every record names its emitting subsystem without callers repeating it.
func New(cfg Config) *slog.Logger {
	handler := cfg.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level})
	}
	return slog.New(handler).With(FieldComponent, cfg.Component)
}
