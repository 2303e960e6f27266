package engine

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/config"
	"github.com/misanthropealoupe/ch-L1mock/l0"
	"github.com/misanthropealoupe/ch-L1mock/source/disk"
	"github.com/misanthropealoupe/ch-L1mock/source/sim"
	"github.com/misanthropealoupe/ch-L1mock/stream"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// recordingAction counts chunks and triggers across goroutines.
type recordingAction struct {
	mu       sync.Mutex
	chunks   int
	triggers []types.Trigger
}

func (r *recordingAction) Meta() component.Metadata {
	return component.Metadata{Name: "recording", Type: "action"}
}
func (r *recordingAction) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: true, LastCheck: time.Now()}
}
func (r *recordingAction) Initialize() error             { return nil }
func (r *recordingAction) Start(_ context.Context) error { return nil }
func (r *recordingAction) Stop(_ time.Duration) error    { return nil }

func (r *recordingAction) HandleTrigger(_ context.Context, t types.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, t)
	return nil
}

func (r *recordingAction) ObserveChunk(_ *types.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks++
}

func (r *recordingAction) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks
}

func (r *recordingAction) Triggers() []types.Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Trigger(nil), r.triggers...)
}

// testRegistry registers the real sim and disk sources plus a recording
// action under the print_to_stdout name, so a plain config exercises the
// whole wiring.
func testRegistry(t *testing.T, rec *recordingAction) *component.Registry {
	t.Helper()
	registry := component.NewRegistry()

	require.NoError(t, registry.RegisterWithConfig(component.RegistrationConfig{
		Name: config.SourceSim, Type: component.TypeSource, Factory: sim.New,
	}))
	require.NoError(t, registry.RegisterWithConfig(component.RegistrationConfig{
		Name: config.SourceDisk, Type: component.TypeSource, Factory: disk.New,
	}))
	require.NoError(t, registry.RegisterWithConfig(component.RegistrationConfig{
		Name: config.ActionPrintToStdout, Type: component.TypeAction,
		Factory: func(_ []byte, _ component.Dependencies) (component.LifecycleComponent, error) {
			return rec, nil
		},
	}))
	return registry
}

func TestPipelineWithSimSource(t *testing.T) {
	cfg := &config.Config{
		NTimeChunk: 128,
		Source: config.SourceConfig{
			Type:            config.SourceSim,
			NFrameIntegrate: 512,
			NChanUpsamp:     1,
		},
		Preprocess: config.PreprocessConfig{Detrend: config.DetrendSubtractMean},
		Dedisperse: config.DedisperseConfig{
			Trees:    []config.TreeSpec{{NDS: 1, NTTree: 32}},
			TreeSize: 32,
			NUps:     1,
			NSM:      1,
		},
		Postprocess: config.PostprocessConfig{Threshold: 10},
		Actions: []config.ActionConfig{
			{Type: config.ActionPrintToStdout, Raw: []byte("type: print_to_stdout\n")},
		},
	}

	rec := &recordingAction{}
	eng, err := New(cfg, testRegistry(t, rec), component.Dependencies{}, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Initialize())
	require.NoError(t, eng.Start(context.Background()))

	assert.Eventually(t, func() bool { return rec.Chunks() >= 3 },
		30*time.Second, 10*time.Millisecond, "chunks never reached the observer")

	agg := eng.Health()
	assert.True(t, agg.Healthy)
	assert.Len(t, agg.SubStatuses, 2) // source + recording action

	require.NoError(t, eng.Stop(10*time.Second))
	assert.NoError(t, eng.Wait())
}

func TestPipelineDoubleStartFails(t *testing.T) {
	cfg := &config.Config{
		NTimeChunk: 64,
		Source: config.SourceConfig{
			Type:            config.SourceSim,
			NFrameIntegrate: 512,
			NChanUpsamp:     1,
		},
		Preprocess: config.PreprocessConfig{Detrend: config.DetrendNone},
		Dedisperse: config.DedisperseConfig{
			Trees: []config.TreeSpec{{NDS: 1, NTTree: 32}}, TreeSize: 32, NUps: 1, NSM: 1,
		},
		Postprocess: config.PostprocessConfig{Threshold: 10},
	}

	eng, err := New(cfg, testRegistry(t, &recordingAction{}), component.Dependencies{}, nil)
	require.NoError(t, err)
	require.NoError(t, eng.Initialize())
	require.NoError(t, eng.Start(context.Background()))
	defer func() { _ = eng.Stop(10 * time.Second) }()

	assert.Error(t, eng.Start(context.Background()))
}

func TestComponentLifecycleStates(t *testing.T) {
	cfg := &config.Config{
		NTimeChunk: 64,
		Source: config.SourceConfig{
			Type:            config.SourceSim,
			NFrameIntegrate: 512,
			NChanUpsamp:     1,
		},
		Preprocess: config.PreprocessConfig{Detrend: config.DetrendNone},
		Dedisperse: config.DedisperseConfig{
			Trees: []config.TreeSpec{{NDS: 1, NTTree: 32}}, TreeSize: 32, NUps: 1, NSM: 1,
		},
		Postprocess: config.PostprocessConfig{Threshold: 10},
		Actions: []config.ActionConfig{
			{Type: config.ActionPrintToStdout, Raw: []byte("type: print_to_stdout\n")},
		},
	}

	eng, err := New(cfg, testRegistry(t, &recordingAction{}), component.Dependencies{}, nil)
	require.NoError(t, err)

	states := eng.ComponentStates()
	require.Len(t, states, 2)
	for _, s := range states {
		assert.Equal(t, component.StateCreated, s)
	}

	require.NoError(t, eng.Initialize())
	for _, s := range eng.ComponentStates() {
		assert.Equal(t, component.StateInitialized, s)
	}

	require.NoError(t, eng.Start(context.Background()))
	for _, s := range eng.ComponentStates() {
		assert.Equal(t, component.StateStarted, s)
	}

	require.NoError(t, eng.Stop(10*time.Second))
	for _, s := range eng.ComponentStates() {
		assert.Equal(t, component.StateStopped, s)
	}
}

func TestNewFailsWithEmptyRegistry(t *testing.T) {
	cfg := &config.Config{
		NTimeChunk: 64,
		Source:     config.SourceConfig{Type: "sim", NFrameIntegrate: 512, NChanUpsamp: 1},
		Dedisperse: config.DedisperseConfig{
			Trees: []config.TreeSpec{{NDS: 1, NTTree: 32}}, TreeSize: 32, NUps: 1, NSM: 1,
		},
		Preprocess:  config.PreprocessConfig{Detrend: config.DetrendNone},
		Postprocess: config.PostprocessConfig{Threshold: 10},
	}

	// Empty registry: the source factory lookup fails.
	_, err := New(cfg, component.NewRegistry(), component.Dependencies{}, nil)
	assert.Error(t, err)
}

// paintPulse adds a dispersed pulse arriving at the top of the band at
// pulseT0.
func paintPulse(c *types.Chunk, dm, pulseT0, amplitude float64) {
	fHi := c.FreqHiMHz
	for ch := 0; ch < c.NChan; ch++ {
		f := c.FreqMHz(ch)
		arrival := pulseT0 + l0.KDMSecMHz2*dm*(1/(f*f)-1/(fHi*fHi))
		t := int((arrival-c.T0)/c.DTSample + 0.5)
		if t < 0 || t >= c.NTime {
			continue
		}
		c.SetAt(ch, 0, t, c.At(ch, 0, t)+float32(amplitude))
	}
}

// TestPipelineDetectsInjectedPulse replays a saved stream with one bright
// dispersed pulse through the whole pipeline and expects a trigger.
func TestPipelineDetectsInjectedPulse(t *testing.T) {
	const (
		nchan = 16
		ntime = 256
		dt    = 1e-3
	)

	dir := t.TempDir()
	w, err := stream.Create(filepath.Join(dir, "acq0.l1int"))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for seq := uint64(0); seq < 7; seq++ {
		c := types.NewChunk(nchan, 1, ntime)
		c.Seq = seq
		c.T0 = float64(seq) * ntime * dt
		c.DTSample = dt
		c.FreqLoMHz = 400
		c.FreqHiMHz = 800
		for i := range c.Intensity {
			c.Intensity[i] = float32(rng.NormFloat64())
		}
		if seq == 4 {
			paintPulse(c, 1.5, c.T0+0.050, 8.0)
		}
		require.NoError(t, w.WriteChunk(c))
	}
	require.NoError(t, w.Close())

	cfg := &config.Config{
		NTimeChunk: ntime,
		Source: config.SourceConfig{
			Type:            config.SourceDisk,
			Path:            dir,
			NFrameIntegrate: 512,
			NChanUpsamp:     1,
		},
		Preprocess: config.PreprocessConfig{Detrend: config.DetrendSubtractMean},
		Dedisperse: config.DedisperseConfig{
			Trees:    []config.TreeSpec{{NDS: 1, NTTree: 64}},
			TreeSize: 64,
			NUps:     1,
			NSM:      2,
			SMDepth:  2,
		},
		Postprocess: config.PostprocessConfig{Threshold: 8},
		Actions: []config.ActionConfig{
			{Type: config.ActionPrintToStdout, Raw: []byte("type: print_to_stdout\n")},
		},
	}

	rec := &recordingAction{}
	eng, err := New(cfg, testRegistry(t, rec), component.Dependencies{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Finite source: Run returns when the stream is exhausted.
	require.NoError(t, eng.Run(ctx, 10*time.Second))

	assert.Equal(t, 7, rec.Chunks())
	triggers := rec.Triggers()
	require.NotEmpty(t, triggers, "the pulse should trigger")

	best := triggers[0]
	for _, trig := range triggers[1:] {
		if trig.SNR > best.SNR {
			best = trig
		}
	}
	assert.InDelta(t, 1.5, best.DM, 0.5)
	assert.Greater(t, best.SNR, 8.0)
}
