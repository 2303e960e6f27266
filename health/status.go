// Package health aggregates per-component health into a pipeline-level
// status. The engine polls its source and actions and publishes the result
// through a Monitor.
package health

import (
	"time"

	"github.com/misanthropealoupe/ch-L1mock/component"
)

// Status levels
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of a component or of the pipeline.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // healthy, degraded, unhealthy
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related counters.
type Metrics struct {
	Uptime     time.Duration `json:"uptime"`
	ErrorCount int           `json:"error_count"`
	LastCheck  time.Time     `json:"last_check,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == StatusHealthy }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == StatusDegraded }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == StatusUnhealthy }

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FromComponentHealth converts a component's own health report. A running
// component that has accumulated errors (dropped frames, failed deliveries)
// is degraded, not unhealthy: the pipeline still flows.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	var status Status
	switch {
	case !ch.Healthy:
		message := "component not running"
		if ch.LastError != "" {
			message = ch.LastError
		}
		status = NewUnhealthy(name, message)
	case ch.ErrorCount > 0:
		status = NewDegraded(name, "component running with errors")
	default:
		status = NewHealthy(name, "component running")
	}

	status.Metrics = &Metrics{
		Uptime:     ch.Uptime,
		ErrorCount: ch.ErrorCount,
		LastCheck:  ch.LastCheck,
	}
	return status
}

// Aggregate combines sub-statuses:
//   - all healthy: healthy
//   - any unhealthy: unhealthy
//   - otherwise, any degraded: degraded
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no sub-components to aggregate")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		if sub.IsUnhealthy() {
			hasUnhealthy = true
		} else if sub.IsDegraded() {
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(component, "one or more sub-components are unhealthy")
	case hasDegraded:
		status = NewDegraded(component, "one or more sub-components are degraded")
	default:
		status = NewHealthy(component, "all sub-components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
