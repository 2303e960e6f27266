// Package stdout implements the print_to_stdout action: one JSON line per
// trigger on standard output.
package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Action prints triggers as JSON lines.
type Action struct {
	name string
	w    io.Writer
	mu   sync.Mutex

	startTime time.Time
	running   bool
}

// New creates the action. The actions entry carries no options.
func New(_ []byte, _ component.Dependencies) (component.LifecycleComponent, error) {
	return &Action{name: "print_to_stdout", w: os.Stdout}, nil
}

// NewWithWriter creates the action writing to w. Used by tests and by the
// engine when output is redirected.
func NewWithWriter(w io.Writer) *Action {
	return &Action{name: "print_to_stdout", w: w}
}

// Meta implements component.Component.
func (a *Action) Meta() component.Metadata {
	return component.Metadata{
		Name:        a.name,
		Type:        "action",
		Description: "print triggers to standard output",
		Version:     "1.0.0",
	}
}

// Health implements component.Component.
func (a *Action) Health() component.HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := component.HealthStatus{Healthy: true, LastCheck: time.Now()}
	if a.running {
		h.Uptime = time.Since(a.startTime)
	}
	return h
}

// Initialize is a no-op.
func (a *Action) Initialize() error { return nil }

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

// HandleTrigger writes one JSON line.
func (a *Action) HandleTrigger(_ context.Context, trigger types.Trigger) error {
	data, err := json.Marshal(trigger)
	if err != nil {
		return errors.WrapInvalid(err, "StdoutAction", "HandleTrigger", "trigger marshal")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := fmt.Fprintln(a.w, string(data)); err != nil {
		return errors.WrapTransient(err, "StdoutAction", "HandleTrigger", "write trigger")
	}
	return nil
}
