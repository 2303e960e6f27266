// Package natspub implements the publish_header_nats action: trigger
// headers are published to a NATS subject for downstream consumers (L2/L3
// classification, archiving).
package natspub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Defaults for omitted config keys.
const (
	DefaultSubject       = "l1.triggers"
	DefaultMaxReconnects = 10
	DefaultReconnectWait = 2 * time.Second
)

// Config is the publish_header_nats actions entry.
type Config struct {
	Type    string `yaml:"type"`
	URL     string `yaml:"url,omitempty"` // default nats.DefaultURL
	Subject string `yaml:"subject,omitempty"`
}

// Action publishes triggers to NATS.
type Action struct {
	name    string
	url     string
	subject string
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *nats.Conn
	running   bool
	startTime time.Time
	errCount  int
	published int
}

// New creates the action from its actions entry.
func New(rawConfig []byte, deps component.Dependencies) (component.LifecycleComponent, error) {
	var cfg Config
	if err := yaml.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "NATSPublishAction", "New", "config unmarshal")
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	return &Action{
		name:    "publish_header_nats",
		url:     cfg.URL,
		subject: cfg.Subject,
		logger:  deps.GetLoggerWithComponent("publish_header_nats"),
	}, nil
}

// Meta implements component.Component.
func (a *Action) Meta() component.Metadata {
	return component.Metadata{
		Name:        a.name,
		Type:        "action",
		Description: "publish trigger headers to NATS",
		Version:     "1.0.0",
	}
}

// Health implements component.Component.
func (a *Action) Health() component.HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := component.HealthStatus{
		Healthy:    a.running && a.conn != nil && a.conn.IsConnected(),
		LastCheck:  time.Now(),
		ErrorCount: a.errCount,
	}
	if a.running {
		h.Uptime = time.Since(a.startTime)
	}
	return h
}

// Initialize is a no-op; the connection opens in Start.
func (a *Action) Initialize() error { return nil }

// Start connects to NATS.
func (a *Action) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "NATSPublishAction", "Start", "check running state")
	}

	conn, err := nats.Connect(a.url,
		nats.MaxReconnects(DefaultMaxReconnects),
		nats.ReconnectWait(DefaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			a.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "NATSPublishAction", "Start", "nats connect")
	}
	a.conn = conn
	a.running = true
	a.startTime = time.Now()
	a.logger.Info("nats publisher started", "url", a.url, "subject", a.subject)
	return nil
}

// Stop drains and closes the connection.
func (a *Action) Stop(timeout time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	if a.conn != nil {
		if err := a.conn.FlushTimeout(timeout); err != nil {
			a.conn.Close()
			a.conn = nil
			a.running = false
			return errors.WrapTransient(err, "NATSPublishAction", "Stop", "flush pending publishes")
		}
		a.conn.Close()
		a.conn = nil
	}
	a.running = false
	return nil
}

// Published returns the number of triggers published.
func (a *Action) Published() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.published
}

// HandleTrigger publishes one trigger header.
func (a *Action) HandleTrigger(_ context.Context, trigger types.Trigger) error {
	payload, err := json.Marshal(trigger)
	if err != nil {
		return errors.WrapInvalid(err, "NATSPublishAction", "HandleTrigger", "trigger marshal")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		a.errCount++
		return errors.WrapTransient(errors.ErrNoConnection, "NATSPublishAction", "HandleTrigger", "connection check")
	}
	if err := a.conn.Publish(a.subject, payload); err != nil {
		a.errCount++
		return errors.WrapTransient(err, "NATSPublishAction", "HandleTrigger", "publish")
	}
	a.published++
	return nil
}
