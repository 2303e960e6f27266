package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/misanthropealoupe/ch-L1mock/errors"
)

// Registry wraps a private Prometheus registry and tracks registered metrics
// by owner so components cannot collide or double-register. Metric keys are
// "component.metric".
type Registry struct {
	registry          *prometheus.Registry
	registeredMetrics map[string]prometheus.Collector
	mu                sync.RWMutex
}

// NewRegistry creates a metrics registry with the standard Go runtime and
// process collectors pre-registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{
		registry:          reg,
		registeredMetrics: make(map[string]prometheus.Collector),
	}
}

// PrometheusRegistry exposes the underlying registry for the HTTP handler.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

func (r *Registry) register(component, name string, c prometheus.Collector) error {
	key := fmt.Sprintf("%s.%s", component, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registeredMetrics[key]; exists {
		msg := fmt.Errorf("metric '%s' already registered", key)
		return errors.WrapInvalid(msg, "MetricsRegistry", "register", "duplicate metric check")
	}

	if err := r.registry.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return errors.WrapInvalid(err, "MetricsRegistry", "register", "prometheus registration")
		}
		return errors.WrapFatal(err, "MetricsRegistry", "register", "prometheus registration")
	}

	r.registeredMetrics[key] = c
	return nil
}

// RegisterCounter creates and registers a counter owned by component.
func (r *Registry) RegisterCounter(component, name, help string) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "l1mock",
		Subsystem: component,
		Name:      name,
		Help:      help,
	})
	if err := r.register(component, name, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RegisterCounterVec creates and registers a labeled counter owned by component.
func (r *Registry) RegisterCounterVec(component, name, help string, labels []string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "l1mock",
		Subsystem: component,
		Name:      name,
		Help:      help,
	}, labels)
	if err := r.register(component, name, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RegisterGauge creates and registers a gauge owned by component.
func (r *Registry) RegisterGauge(component, name, help string) (prometheus.Gauge, error) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "l1mock",
		Subsystem: component,
		Name:      name,
		Help:      help,
	})
	if err := r.register(component, name, g); err != nil {
		return nil, err
	}
	return g, nil
}

// RegisterGaugeVec creates and registers a labeled gauge owned by component.
func (r *Registry) RegisterGaugeVec(component, name, help string, labels []string) (*prometheus.GaugeVec, error) {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "l1mock",
		Subsystem: component,
		Name:      name,
		Help:      help,
	}, labels)
	if err := r.register(component, name, g); err != nil {
		return nil, err
	}
	return g, nil
}

// RegisterHistogram creates and registers a histogram owned by component.
// Nil buckets fall back to prometheus.DefBuckets.
func (r *Registry) RegisterHistogram(component, name, help string, buckets []float64) (prometheus.Histogram, error) {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "l1mock",
		Subsystem: component,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	if err := r.register(component, name, h); err != nil {
		return nil, err
	}
	return h, nil
}

// RegisterHistogramVec creates and registers a labeled histogram owned by
// component. Nil buckets fall back to prometheus.DefBuckets.
func (r *Registry) RegisterHistogramVec(component, name, help string, buckets []float64, labels []string) (*prometheus.HistogramVec, error) {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "l1mock",
		Subsystem: component,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	if err := r.register(component, name, h); err != nil {
		return nil, err
	}
	return h, nil
}

// RegisterCollector registers a pre-built collector under component.name.
// Used for the shared pipeline Metrics whose collectors carry their own opts.
func (r *Registry) RegisterCollector(component, name string, c prometheus.Collector) error {
	return r.register(component, name, c)
}

// RegisterMetrics registers every collector of the shared pipeline Metrics.
func (r *Registry) RegisterMetrics(m *Metrics) error {
	entries := []struct {
		name string
		c    prometheus.Collector
	}{
		{"component_status", m.ComponentStatus},
		{"chunks_produced", m.ChunksProduced},
		{"chunks_processed", m.ChunksProcessed},
		{"candidates_total", m.CandidatesTotal},
		{"triggers_total", m.TriggersTotal},
		{"actions_dispatched", m.ActionsDispatched},
		{"stage_duration", m.StageDuration},
		{"errors_total", m.ErrorsTotal},
	}
	for _, e := range entries {
		if err := r.register("pipeline", e.name, e.c); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes a metric by its "component.metric" key.
func (r *Registry) Unregister(component, name string) bool {
	key := fmt.Sprintf("%s.%s", component, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}
	delete(r.registeredMetrics, key)
	return r.registry.Unregister(c)
}

// Registered returns the keys of all registered metrics.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.registeredMetrics))
	for k := range r.registeredMetrics {
		keys = append(keys, k)
	}
	return keys
}
