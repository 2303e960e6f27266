// Package header implements the send_header action: trigger headers are
// delivered to a TCP consumer as length-prefixed JSON records. Delivery is
// retried with backoff; the connection is reopened on failure.
package header

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/pkg/retry"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

const dialTimeout = 5 * time.Second

// Config is the send_header actions entry.
type Config struct {
	Type string `yaml:"type"`
	Host string `yaml:"host,omitempty"` // default localhost
	Port int    `yaml:"port"`
}

// Action delivers trigger headers over TCP.
type Action struct {
	name   string
	addr   string
	logger *slog.Logger
	retry  retry.Config

	mu        sync.Mutex
	conn      net.Conn
	running   bool
	startTime time.Time
	errCount  int
}

// New creates the action from its actions entry.
func New(rawConfig []byte, deps component.Dependencies) (component.LifecycleComponent, error) {
	var cfg Config
	if err := yaml.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "HeaderAction", "New", "config unmarshal")
	}
	if err := component.ValidatePortNumber(cfg.Port); err != nil {
		return nil, errors.Wrap(err, "HeaderAction", "New", "port validation")
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	return &Action{
		name:   "send_header",
		addr:   net.JoinHostPort(host, fmt.Sprintf("%d", cfg.Port)),
		logger: deps.GetLoggerWithComponent("send_header"),
		retry:  errors.DefaultRetryConfig().ToRetryConfig(),
	}, nil
}

// Meta implements component.Component.
func (a *Action) Meta() component.Metadata {
	return component.Metadata{
		Name:        a.name,
		Type:        "action",
		Description: "deliver trigger headers over TCP",
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

// Initialize is a no-op; the connection opens lazily on first delivery.
func (a *Action) Initialize() error { return nil }

// Start marks the action running.
func (a *Action) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	a.startTime = time.Now()
	return nil
}

// Stop closes the connection.
func (a *Action) Stop(_ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.running = false
	return nil
}

// HandleTrigger delivers one header, retrying transient failures.
func (a *Action) HandleTrigger(ctx context.Context, trigger types.Trigger) error {
	payload, err := json.Marshal(trigger)
	if err != nil {
		return errors.WrapInvalid(err, "HeaderAction", "HandleTrigger", "trigger marshal")
	}

	err = retry.Do(ctx, a.retry, func() error {
		return a.send(payload)
	})
	if err != nil {
		a.mu.Lock()
		a.errCount++
		a.mu.Unlock()
		return errors.WrapTransient(err, "HeaderAction", "HandleTrigger", "header delivery")
	}
	return nil
}

// send writes one length-prefixed record, dialing if needed. A write error
// drops the connection so the next attempt redials.
func (a *Action) send(payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		conn, err := net.DialTimeout("tcp", a.addr, dialTimeout)
		if err != nil {
			return err
		}
		a.conn = conn
		a.logger.Info("header consumer connected", "addr", a.addr)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := a.conn.Write(lenBuf[:]); err != nil {
		_ = a.conn.Close()
		a.conn = nil
		return err
	}
	if _, err := a.conn.Write(payload); err != nil {
		_ = a.conn.Close()
		a.conn = nil
		return err
	}
	return nil
}
