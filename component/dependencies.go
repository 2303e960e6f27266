package component

import (
	"log/slog"

	"github.com/misanthropealoupe/ch-L1mock/metric"
)

// Dependencies provides the external dependencies injected into components.
// Loggers and metrics are never accessed ambiently; every component receives
// them here.
type Dependencies struct {
	Logger  *slog.Logger     // Structured logger (nil defaults to slog.Default())
	Metrics *metric.Registry // Metrics registry (nil disables instrumentation)
}

// GetLogger returns the configured logger or the process default.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger tagged with component context.
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
