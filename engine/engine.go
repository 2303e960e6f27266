// Package engine assembles the search pipeline from a validated
// configuration and manages its lifecycle. The engine creates the source and
// actions through the component registry, wires the processing stages with
// bounded channels, starts everything in dependency order, and shuts down in
// reverse: source first so the pipeline drains, actions last so every
// remaining trigger is delivered.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/action"
	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/config"
	"github.com/misanthropealoupe/ch-L1mock/dedisperse"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/health"
	"github.com/misanthropealoupe/ch-L1mock/metric"
	"github.com/misanthropealoupe/ch-L1mock/preprocess"
	"github.com/misanthropealoupe/ch-L1mock/sift"
	"github.com/misanthropealoupe/ch-L1mock/source"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// chanDepth bounds the inter-stage channels. Small on purpose: a slow stage
// exerts backpressure on the source instead of buffering unbounded data.
const chanDepth = 4

// Component status gauge values.
const (
	statusStopped = 0
	statusStarted = 1
)

// Engine owns the pipeline: one source, the processing stages, and the
// configured actions.
type Engine struct {
	cfg     *config.Config
	deps    component.Dependencies
	metrics *metric.Metrics
	logger  *slog.Logger

	src     source.Source
	actions []action.Action

	// managed holds every lifecycle component in start order: actions
	// first so the earliest trigger has somewhere to go, the source last.
	// Shutdown walks the list in reverse.
	managed []*component.Managed

	pre        *preprocess.Preprocessor
	dedisp     *dedisperse.Dedisperser
	sifter     *sift.Sifter
	dispatcher *action.Dispatcher

	monitor    *health.Monitor
	healthStop chan struct{}
	healthOnce sync.Once

	mu        sync.Mutex
	running   bool
	startTime time.Time
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// healthPollInterval is how often component health is sampled.
const healthPollInterval = time.Second

// New builds the pipeline from a validated configuration. The registry must
// have the built-in factories registered. No I/O happens here; sockets and
// files open in Start.
func New(
	cfg *config.Config,
	registry *component.Registry,
	deps component.Dependencies,
	metrics *metric.Metrics,
) (*Engine, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Engine", "New", "config validation")
	}
	if registry == nil {
		return nil, errors.WrapFatal(
			stderrors.New("registry cannot be nil"), "Engine", "New", "registry validation")
	}

	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		metrics: metrics,
		logger:  deps.GetLoggerWithComponent("engine"),
		monitor: health.NewMonitor(),
	}

	if err := e.buildSource(registry); err != nil {
		return nil, err
	}
	if err := e.buildActions(registry); err != nil {
		return nil, err
	}
	for _, act := range e.actions {
		e.managed = append(e.managed, &component.Managed{Component: act})
	}
	e.managed = append(e.managed, &component.Managed{Component: e.src})

	var err error
	if e.pre, err = preprocess.New(cfg.Preprocess, deps); err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "build preprocessor")
	}
	if e.dedisp, err = dedisperse.New(cfg.Dedisperse, deps); err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "build dedisperser")
	}
	if e.sifter, err = sift.New(cfg.Postprocess, deps); err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "build sifter")
	}
	e.dispatcher = action.NewDispatcher(e.actions, deps, metrics)

	return e, nil
}

// buildSource creates the configured source through the registry. The source
// factory receives the source section plus the global parameters it needs.
func (e *Engine) buildSource(registry *component.Registry) error {
	fc := source.FactoryConfig{
		NTimeChunk:      e.cfg.NTimeChunk,
		NFrameIntegrate: e.cfg.Source.NFrameIntegrate,
		NChanUpsamp:     e.cfg.Source.NChanUpsamp,
		Path:            e.cfg.Source.Path,
		Realtime:        e.cfg.Source.Realtime,
	}
	if vs := e.cfg.Source.VDIFSource; vs != nil {
		fc.VDIFType = vs.Type
		fc.ListenAddr = vs.ListenAddr
		fc.RingFrames = vs.RingFrames
		fc.AcqDir = vs.AcqDir
	}

	raw, err := yaml.Marshal(fc)
	if err != nil {
		return errors.WrapInvalid(err, "Engine", "buildSource", "marshal source config")
	}

	comp, err := registry.Create("source", e.cfg.Source.Type, component.TypeSource, raw, e.deps)
	if err != nil {
		return errors.Wrap(err, "Engine", "buildSource", "create source")
	}

	src, ok := comp.(source.Source)
	if !ok {
		return errors.WrapFatal(
			fmt.Errorf("factory '%s' did not return a source", e.cfg.Source.Type),
			"Engine", "buildSource", "source type assertion")
	}
	e.src = src
	return nil
}

// buildActions creates every configured action through the registry, in
// config order. Order matters: actions start in this order and stop in
// reverse.
func (e *Engine) buildActions(registry *component.Registry) error {
	for i, ac := range e.cfg.Actions {
		instance := fmt.Sprintf("%s-%d", ac.Type, i)
		comp, err := registry.Create(instance, ac.Type, component.TypeAction, ac.Raw, e.deps)
		if err != nil {
			return errors.Wrap(err, "Engine", "buildActions", "create "+instance)
		}
		act, ok := comp.(action.Action)
		if !ok {
			return errors.WrapFatal(
				fmt.Errorf("factory '%s' did not return an action", ac.Type),
				"Engine", "buildActions", "action type assertion")
		}
		e.actions = append(e.actions, act)
	}
	return nil
}

// Source returns the pipeline source. Exposed for health inspection.
func (e *Engine) Source() source.Source { return e.src }

// Actions returns the configured actions in start order.
func (e *Engine) Actions() []action.Action { return e.actions }

// Initialize initializes every managed component.
func (e *Engine) Initialize() error {
	for _, m := range e.managed {
		name := m.Component.Meta().Name
		if err := m.Component.Initialize(); err != nil {
			m.State = component.StateFailed
			m.LastError = err
			return errors.Wrap(err, "Engine", "Initialize", "initialize "+name)
		}
		m.State = component.StateInitialized
	}
	return nil
}

// Start starts the actions, then the source, then the pipeline goroutines.
// Actions come up first so the earliest trigger has somewhere to go.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Engine", "Start", "check running state")
	}

	runCtx, cancel := context.WithCancel(ctx)

	// Each component gets its own child context so it can be cancelled
	// individually during shutdown.
	for i, m := range e.managed {
		name := m.Component.Meta().Name
		m.Context, m.Cancel = context.WithCancel(runCtx)
		if err := m.Component.Start(m.Context); err != nil {
			m.State = component.StateFailed
			m.LastError = err
			cancel()
			return errors.Wrap(err, "Engine", "Start", "start "+name)
		}
		m.State = component.StateStarted
		m.StartOrder = i
		e.recordStatus(name, statusStarted)
	}

	e.group = e.startPipeline(runCtx)
	e.cancel = cancel
	e.running = true
	e.startTime = time.Now()
	e.healthStop = make(chan struct{})
	e.pollHealth()
	go e.healthLoop(runCtx)
	e.logger.Info("pipeline started",
		"source", e.cfg.Source.Type,
		"trees", len(e.cfg.Dedisperse.Trees),
		"actions", len(e.actions))
	return nil
}

// startPipeline launches the stage goroutines:
//
//	source -> preprocess -> dedisperse -> sift -> dispatch
//	                   \___________________________/
//	             (preprocessed chunks feed the observers)
//
// Every stage exits when its input closes; closing cascades from the source.
func (e *Engine) startPipeline(ctx context.Context) *errgroup.Group {
	g, gctx := errgroup.WithContext(ctx)

	ddIn := make(chan *types.Chunk, chanDepth)
	obsChunks := make(chan *types.Chunk, chanDepth)
	candidates := make(chan types.Candidate, chanDepth)
	counted := make(chan types.Candidate, chanDepth)
	triggers := make(chan types.Trigger, chanDepth)

	g.Go(func() error {
		defer close(ddIn)
		defer close(obsChunks)
		return e.runPreprocess(gctx, ddIn, obsChunks)
	})

	g.Go(func() error {
		defer close(candidates)
		return e.dedisp.Run(gctx, ddIn, candidates)
	})

	g.Go(func() error {
		defer close(counted)
		for cand := range candidates {
			if e.metrics != nil {
				e.metrics.RecordCandidate(strconv.Itoa(cand.Tree))
			}
			select {
			case counted <- cand:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		defer close(triggers)
		return e.sifter.Run(gctx, counted, triggers)
	})

	g.Go(func() error {
		return e.dispatcher.Run(gctx, obsChunks, triggers)
	})

	return g
}

// runPreprocess drains the source, preprocesses each chunk, and fans the
// result out to the dedisperser and the observers.
func (e *Engine) runPreprocess(ctx context.Context, ddIn, obsChunks chan<- *types.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-e.src.Chunks():
			if !ok {
				return nil
			}
			if e.metrics != nil {
				e.metrics.RecordChunkProduced(e.cfg.Source.Type)
			}

			start := time.Now()
			out, err := e.pre.Process(c)
			if err != nil {
				return errors.Wrap(err, "Engine", "runPreprocess", "preprocess chunk")
			}
			if e.metrics != nil {
				e.metrics.RecordStageDuration("preprocess", time.Since(start))
				e.metrics.RecordChunkProcessed("preprocess")
			}

			select {
			case ddIn <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
			select {
			case obsChunks <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Wait blocks until the pipeline goroutines finish. For finite sources
// (disk, saved acquisitions) that means the data ran dry; network and sim
// sources only finish after Stop. Cancellation is a clean exit.
func (e *Engine) Wait() error {
	e.mu.Lock()
	group := e.group
	e.mu.Unlock()
	if group == nil {
		return nil
	}
	err := group.Wait()
	if err != nil && stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop shuts the pipeline down: source first so the chunk channel closes and
// the stages drain, then the actions in reverse start order. If the drain
// exceeds the timeout the pipeline context is cancelled.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	group := e.group
	e.mu.Unlock()

	e.healthOnce.Do(func() { close(e.healthStop) })

	deadline := time.Now().Add(timeout)
	var firstErr error

	// The source started last; stop it first so the chunk channel closes
	// and the stages drain.
	srcM := e.managed[len(e.managed)-1]
	if err := e.stopManaged(srcM, timeout); err != nil {
		e.logger.Error("source stop failed", "error", err)
		firstErr = err
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- group.Wait() }()
	select {
	case err := <-waitCh:
		if err != nil && !stderrors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
		}
	case <-time.After(time.Until(deadline)):
		e.logger.Warn("pipeline drain timed out, cancelling")
		cancel()
		<-waitCh
	}

	for i := len(e.managed) - 2; i >= 0; i-- {
		m := e.managed[i]
		if err := e.stopManaged(m, remaining(deadline)); err != nil {
			e.logger.Error("action stop failed",
				"action", m.Component.Meta().Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, m := range e.managed {
		if m.Cancel != nil {
			m.Cancel()
		}
	}
	cancel()
	e.logger.Info("pipeline stopped")
	return firstErr
}

// Run is the blocking convenience entrypoint: initialize, start, and run
// until the context is cancelled or a finite source runs dry, then shut down
// gracefully.
func (e *Engine) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := e.Initialize(); err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- e.Wait() }()

	select {
	case <-ctx.Done():
		e.logger.Info("shutdown requested")
		return e.Stop(shutdownTimeout)
	case err := <-done:
		stopErr := e.Stop(shutdownTimeout)
		if err != nil {
			return err
		}
		return stopErr
	}
}

// Health returns the aggregated status of the source and actions.
func (e *Engine) Health() health.Status {
	s := e.monitor.AggregateHealth("pipeline")
	e.mu.Lock()
	if e.running {
		s.Metrics = &health.Metrics{Uptime: time.Since(e.startTime)}
	}
	e.mu.Unlock()
	return s
}

// stopManaged stops one component and records the outcome.
func (e *Engine) stopManaged(m *component.Managed, timeout time.Duration) error {
	err := m.Component.Stop(timeout)
	e.mu.Lock()
	if err != nil {
		m.State = component.StateFailed
		m.LastError = err
	} else {
		m.State = component.StateStopped
	}
	e.mu.Unlock()
	e.recordStatus(m.Component.Meta().Name, statusStopped)
	return err
}

// ComponentStates reports the lifecycle state of every managed component,
// keyed by component name.
func (e *Engine) ComponentStates() map[string]component.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]component.State, len(e.managed))
	for _, m := range e.managed {
		out[m.Component.Meta().Name] = m.State
	}
	return out
}

// pollHealth samples every component once.
func (e *Engine) pollHealth() {
	for _, m := range e.managed {
		name := m.Component.Meta().Name
		e.monitor.Update(name, health.FromComponentHealth(name, m.Component.Health()))
	}
}

// healthLoop samples component health until the pipeline stops. It lives
// outside the stage errgroup so a drained pipeline does not wait on it.
func (e *Engine) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.healthStop:
			return
		case <-ticker.C:
			e.pollHealth()
		}
	}
}

func (e *Engine) recordStatus(name string, state int) {
	if e.metrics != nil {
		e.metrics.RecordComponentStatus(name, state)
	}
}

// remaining clamps the time left before deadline to a usable stop timeout.
func remaining(deadline time.Time) time.Duration {
	rem := time.Until(deadline)
	if rem < time.Second {
		return time.Second
	}
	return rem
}
