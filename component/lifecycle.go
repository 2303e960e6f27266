// Package component defines the lifecycle contract, dependency injection
// structure, and factory registry shared by pipeline components (sources and
// actions).
package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during a lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "source" or "action"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// Component is the minimal contract for anything managed by the engine.
type Component interface {
	// Meta returns basic component information
	Meta() Metadata

	// Health returns current health status
	Health() HealthStatus
}

// LifecycleComponent defines components that support full lifecycle
// management:
//   - Initialize() error                  // setup/create only, no I/O
//   - Start(ctx context.Context) error    // begin work, context passed through
//   - Stop(timeout time.Duration) error   // graceful shutdown with timeout
//
// Components never store the context; the engine holds a named child context
// per component so individual components can be cancelled during shutdown.
type LifecycleComponent interface {
	Component
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Managed tracks a component and its lifecycle state. Used by the engine to
// run startup in registration order and shutdown in reverse.
type Managed struct {
	Component LifecycleComponent
	State     State

	// Named child context for this specific component; only the engine
	// stores these, the component receives them as parameters.
	Context context.Context
	Cancel  context.CancelFunc

	// StartOrder tracks the order components were started for reverse
	// shutdown.
	StartOrder int

	// LastError tracks the last error from a lifecycle operation.
	LastError error
}
