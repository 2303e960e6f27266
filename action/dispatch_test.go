package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

type recordingAction struct {
	name     string
	observe  bool
	chunks   []*types.Chunk
	triggers []types.Trigger
	fail     error
}

func (r *recordingAction) Meta() component.Metadata {
	return component.Metadata{Name: r.name, Type: "action"}
}
func (r *recordingAction) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: true, LastCheck: time.Now()}
}
func (r *recordingAction) Initialize() error              { return nil }
func (r *recordingAction) Start(_ context.Context) error  { return nil }
func (r *recordingAction) Stop(_ time.Duration) error     { return nil }

func (r *recordingAction) HandleTrigger(_ context.Context, t types.Trigger) error {
	if r.fail != nil {
		return r.fail
	}
	r.triggers = append(r.triggers, t)
	return nil
}

func (r *recordingAction) ObserveChunk(c *types.Chunk) {
	if r.observe {
		r.chunks = append(r.chunks, c)
	}
}

func makeChunk(t0 float64) *types.Chunk {
	c := types.NewChunk(2, 1, 4)
	c.T0 = t0
	c.DTSample = 0.25
	c.FreqLoMHz = 400
	c.FreqHiMHz = 800
	return c
}

func TestWindowSnapshot(t *testing.T) {
	w := NewWindow(1.0)
	for i := 0; i < 10; i++ {
		w.Observe(makeChunk(float64(i))) // 1s chunks
	}

	snap := w.Snapshot(8.5)
	require.NotEmpty(t, snap)
	for _, c := range snap {
		assert.GreaterOrEqual(t, c.T0+c.Duration(), 7.5)
		assert.LessOrEqual(t, c.T0, 9.5)
	}

	// Old data was evicted.
	assert.Empty(t, w.Snapshot(0.5))
}

func TestWindowKeepsSpan(t *testing.T) {
	w := NewWindow(2.0)
	for i := 0; i < 20; i++ {
		w.Observe(makeChunk(float64(i)))
	}

	// The full backward span around the newest data is available.
	snap := w.Snapshot(18.0)
	assert.GreaterOrEqual(t, len(snap), 4)
}

func TestDispatcherFansOut(t *testing.T) {
	a1 := &recordingAction{name: "a1"}
	a2 := &recordingAction{name: "a2", observe: true}

	d := NewDispatcher([]Action{a1, a2}, component.Dependencies{}, nil)
	assert.Equal(t, 1, d.Observers())

	d.OfferChunk(makeChunk(0))
	d.Dispatch(context.Background(), types.Trigger{SNR: 12})

	assert.Len(t, a1.triggers, 1)
	assert.Len(t, a2.triggers, 1)
	assert.Len(t, a1.chunks, 0)
	assert.Len(t, a2.chunks, 1)
}

func TestDispatcherSurvivesActionFailure(t *testing.T) {
	bad := &recordingAction{name: "bad", fail: assert.AnError}
	good := &recordingAction{name: "good"}

	d := NewDispatcher([]Action{bad, good}, component.Dependencies{}, nil)

	d.Dispatch(context.Background(), types.Trigger{SNR: 12})
	assert.Len(t, good.triggers, 1)
}

func TestDispatcherRun(t *testing.T) {
	a := &recordingAction{name: "a", observe: true}
	d := NewDispatcher([]Action{a}, component.Dependencies{}, nil)

	chunks := make(chan *types.Chunk, 4)
	triggers := make(chan types.Trigger, 4)

	chunks <- makeChunk(0)
	chunks <- makeChunk(1)
	triggers <- types.Trigger{SNR: 15}
	close(chunks)
	close(triggers)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx, chunks, triggers))

	assert.Len(t, a.chunks, 2)
	assert.Len(t, a.triggers, 1)
}
