package action

import (
	"context"
	"log/slog"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/metric"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Dispatcher owns the configured actions, feeds chunk observers, and fans
// triggers out to every action. A single goroutine runs the loop; actions
// do their own I/O and retries. Actions needing a backward data window keep
// their own (see Window).
type Dispatcher struct {
	actions   []Action
	observers []ChunkObserver
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// NewDispatcher wires the actions. Actions implementing ChunkObserver also
// receive the chunk stream.
func NewDispatcher(actions []Action, deps component.Dependencies, metrics *metric.Metrics) *Dispatcher {
	d := &Dispatcher{
		actions: actions,
		logger:  deps.GetLoggerWithComponent("dispatch"),
		metrics: metrics,
	}
	for _, a := range actions {
		if obs, ok := a.(ChunkObserver); ok {
			d.observers = append(d.observers, obs)
		}
	}
	return d
}

// Observers returns how many actions receive the chunk stream.
func (d *Dispatcher) Observers() int {
	return len(d.observers)
}

// OfferChunk feeds a preprocessed chunk to the observers.
func (d *Dispatcher) OfferChunk(c *types.Chunk) {
	for _, obs := range d.observers {
		obs.ObserveChunk(c)
	}
}

// Dispatch fans one trigger out to every action. Individual action failures
// are logged and counted, never fatal to the pipeline.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger types.Trigger) {
	for _, a := range d.actions {
		name := a.Meta().Name
		if err := a.HandleTrigger(ctx, trigger); err != nil {
			d.logger.Error("action failed",
				"action", name, "trigger", trigger.ID, "error", err)
			if d.metrics != nil {
				d.metrics.RecordActionDispatch(name, "error")
				d.metrics.RecordError(name, errors.Classify(err).String())
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.RecordActionDispatch(name, "ok")
		}
	}
}

// Run consumes preprocessed chunks and triggers until both inputs close or
// ctx is cancelled. Chunks and triggers interleave on one goroutine, so
// observers never race with trigger handling.
func (d *Dispatcher) Run(ctx context.Context, chunks <-chan *types.Chunk, triggers <-chan types.Trigger) error {
	for chunks != nil || triggers != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			d.OfferChunk(c)
		case t, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			if d.metrics != nil {
				d.metrics.RecordTrigger()
			}
			d.Dispatch(ctx, t)
		}
	}
	return nil
}
