// Package rawdata implements the save_raw_data action: the preprocessed
// chunks around each trigger are written to an intensity stream file that
// the disk source can replay.
package rawdata

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/action"
	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/stream"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// DefaultWindowSec is the capture window on either side of a trigger.
const DefaultWindowSec = 1.0

// FileExt matches the disk source's stream file extension.
const FileExt = ".l1int"

// Config is the save_raw_data actions entry.
type Config struct {
	Type      string  `yaml:"type"`
	OutDir    string  `yaml:"out_dir"`
	WindowSec float64 `yaml:"window_sec,omitempty"`
}

// Action captures trigger windows to disk.
type Action struct {
	name   string
	outDir string
	window *action.Window
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	startTime time.Time
	saved     int
	errCount  int
}

// New creates the action from its actions entry.
func New(rawConfig []byte, deps component.Dependencies) (component.LifecycleComponent, error) {
	var cfg Config
	if err := yaml.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "RawDataAction", "New", "config unmarshal")
	}
	if cfg.OutDir == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "RawDataAction", "New", "out_dir required")
	}
	if cfg.WindowSec <= 0 {
		cfg.WindowSec = DefaultWindowSec
	}

	return &Action{
		name:   "save_raw_data",
		outDir: cfg.OutDir,
		window: action.NewWindow(cfg.WindowSec),
		logger: deps.GetLoggerWithComponent("save_raw_data"),
	}, nil
}

// Meta implements component.Component.
func (a *Action) Meta() component.Metadata {
	return component.Metadata{
		Name:        a.name,
		Type:        "action",
		Description: "save trigger windows as intensity streams",
		Version:     "1.0.0",
	}
}

// Health implements component.Component.
func (a *Action) Health() component.HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := component.HealthStatus{
		Healthy:    a.running,
		LastCheck:  time.Now(),
		ErrorCount: a.errCount,
	}
	if a.running {
		h.Uptime = time.Since(a.startTime)
	}
	return h
}

// Initialize creates the output directory.
func (a *Action) Initialize() error {
	if err := os.MkdirAll(a.outDir, 0o755); err != nil {
		return errors.Wrap(err, "RawDataAction", "Initialize", "create output directory")
	}
	return nil
}

// Start marks the action running.
func (a *Action) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	a.startTime = time.Now()
	return nil
}

// Stop marks the action stopped.
func (a *Action) Stop(_ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	return nil
}

// ObserveChunk implements action.ChunkObserver.
func (a *Action) ObserveChunk(c *types.Chunk) {
	a.window.Observe(c)
}

// Saved returns how many trigger windows have been written.
func (a *Action) Saved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saved
}

// HandleTrigger writes the buffered window to a stream file named after the
// trigger ID.
func (a *Action) HandleTrigger(_ context.Context, trigger types.Trigger) error {
	chunks := a.window.Snapshot(trigger.Time)
	if len(chunks) == 0 {
		a.mu.Lock()
		a.errCount++
		a.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("no data buffered around t=%g", trigger.Time),
			"RawDataAction", "HandleTrigger", "window snapshot")
	}

	path := filepath.Join(a.outDir, fmt.Sprintf("trigger_%s%s", trigger.ID, FileExt))
	w, err := stream.Create(path)
	if err != nil {
		a.mu.Lock()
		a.errCount++
		a.mu.Unlock()
		return errors.Wrap(err, "RawDataAction", "HandleTrigger", "create stream file")
	}

	for _, c := range chunks {
		if err := w.WriteChunk(c); err != nil {
			_ = w.Close()
			a.mu.Lock()
			a.errCount++
			a.mu.Unlock()
			return errors.Wrap(err, "RawDataAction", "HandleTrigger", "write chunk")
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "RawDataAction", "HandleTrigger", "close stream file")
	}

	a.mu.Lock()
	a.saved++
	a.mu.Unlock()
	a.logger.Info("trigger window saved",
		"trigger", trigger.ID, "file", path, "chunks", len(chunks))
	return nil
}
