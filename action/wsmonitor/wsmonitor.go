// Package wsmonitor implements the websocket_monitor action: an HTTP
// server that upgrades clients to WebSocket and broadcasts every trigger as
// a JSON message, for live monitoring dashboards.
package wsmonitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

const writeTimeout = 5 * time.Second

// Config is the websocket_monitor actions entry.
type Config struct {
	Type       string `yaml:"type"`
	ListenAddr string `yaml:"listen_addr"` // e.g. ":8090"
}

// Action broadcasts triggers to WebSocket clients.
type Action struct {
	name   string
	addr   string
	logger *slog.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	mu        sync.Mutex
	clients   map[*websocket.Conn]struct{}
	running   bool
	startTime time.Time
	errCount  int
}

// New creates the action from its actions entry.
func New(rawConfig []byte, deps component.Dependencies) (component.LifecycleComponent, error) {
	var cfg Config
	if err := yaml.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "WSMonitorAction", "New", "config unmarshal")
	}
	if cfg.ListenAddr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "WSMonitorAction", "New", "listen_addr required")
	}

	return &Action{
		name:   "websocket_monitor",
		addr:   cfg.ListenAddr,
		logger: deps.GetLoggerWithComponent("websocket_monitor"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*websocket.Conn]struct{}),
	}, nil
}

// Meta implements component.Component.
func (a *Action) Meta() component.Metadata {
	return component.Metadata{
		Name:        a.name,
		Type:        "action",
		Description: "broadcast triggers to WebSocket clients",
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

// Initialize is a no-op; the listener opens in Start.
func (a *Action) Initialize() error { return nil }

// Start opens the HTTP listener.
func (a *Action) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "WSMonitorAction", "Start", "check running state")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/triggers", a.handleConnect)

	a.server = &http.Server{
		Addr:              a.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("monitor server failed", "error", err)
		}
	}()

	a.running = true
	a.startTime = time.Now()
	a.logger.Info("trigger monitor listening", "addr", a.addr)
	return nil
}

// Stop disconnects clients and shuts the server down.
func (a *Action) Stop(timeout time.Duration) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	for conn := range a.clients {
		_ = conn.Close()
	}
	a.clients = make(map[*websocket.Conn]struct{})
	a.running = false
	server := a.server
	a.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "WSMonitorAction", "Stop", "server shutdown")
	}
	return nil
}

// Clients returns the number of connected monitors.
func (a *Action) Clients() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.clients)
}

func (a *Action) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	a.mu.Lock()
	a.clients[conn] = struct{}{}
	n := len(a.clients)
	a.mu.Unlock()
	a.logger.Info("monitor client connected", "remote", conn.RemoteAddr(), "clients", n)

	// Reader goroutine: detect disconnects, discard client messages.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				a.mu.Lock()
				delete(a.clients, conn)
				a.mu.Unlock()
				_ = conn.Close()
				return
			}
		}
	}()
}

// HandleTrigger broadcasts one trigger to every connected client. A failed
// client is dropped; broadcast never fails the pipeline.
func (a *Action) HandleTrigger(_ context.Context, trigger types.Trigger) error {
	payload, err := json.Marshal(trigger)
	if err != nil {
		return errors.WrapInvalid(err, "WSMonitorAction", "HandleTrigger", "trigger marshal")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for conn := range a.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			a.logger.Warn("dropping monitor client", "remote", conn.RemoteAddr(), "error", err)
			_ = conn.Close()
			delete(a.clients, conn)
			a.errCount++
		}
	}
	return nil
}
