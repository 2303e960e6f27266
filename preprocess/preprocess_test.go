package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/config"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

func testChunk(nchan, npol, ntime int) *types.Chunk {
	c := types.NewChunk(nchan, npol, ntime)
	c.T0 = 0
	c.DTSample = 1e-3
	c.FreqLoMHz = 400
	c.FreqHiMHz = 800
	return c
}

func TestCollapsePolarizations(t *testing.T) {
	c := testChunk(2, 2, 4)
	for ch := 0; ch < 2; ch++ {
		for tt := 0; tt < 4; tt++ {
			c.SetAt(ch, 0, tt, 10)
			c.SetAt(ch, 1, tt, 20)
		}
	}

	out := collapsePolarizations(c)
	require.Equal(t, 1, out.NPol)
	require.NoError(t, out.Validate())

	// Equal weights average the pols
	assert.InDelta(t, 15.0, float64(out.At(0, 0, 0)), 1e-6)
	assert.Equal(t, uint8(255), out.WeightAt(0, 0, 0))
}

func TestCollapseWeighted(t *testing.T) {
	c := testChunk(1, 2, 1)
	c.SetAt(0, 0, 0, 10)
	c.SetAt(0, 1, 0, 20)
	c.SetWeightAt(0, 0, 0, 255)
	c.SetWeightAt(0, 1, 0, 0) // second pol masked

	out := collapsePolarizations(c)
	assert.InDelta(t, 10.0, float64(out.At(0, 0, 0)), 1e-6)
	assert.Equal(t, uint8(128), out.WeightAt(0, 0, 0))
}

func TestCollapseAllMasked(t *testing.T) {
	c := testChunk(1, 2, 1)
	c.SetAt(0, 0, 0, 10)
	c.SetAt(0, 1, 0, 20)
	c.SetWeightAt(0, 0, 0, 0)
	c.SetWeightAt(0, 1, 0, 0)

	out := collapsePolarizations(c)
	assert.Equal(t, float32(0), out.At(0, 0, 0))
	assert.Equal(t, uint8(0), out.WeightAt(0, 0, 0))
}

func TestSubtractMean(t *testing.T) {
	c := testChunk(1, 1, 4)
	for tt, v := range []float32{1, 2, 3, 4} {
		c.SetAt(0, 0, tt, v)
	}

	subtractMean(c)

	assert.InDelta(t, -1.5, float64(c.At(0, 0, 0)), 1e-6)
	assert.InDelta(t, 1.5, float64(c.At(0, 0, 3)), 1e-6)

	var sum float64
	for tt := 0; tt < 4; tt++ {
		sum += float64(c.At(0, 0, tt))
	}
	assert.InDelta(t, 0, sum, 1e-5)
}

func TestSubtractMeanSkipsMasked(t *testing.T) {
	c := testChunk(1, 1, 3)
	c.SetAt(0, 0, 0, 100) // masked outlier
	c.SetWeightAt(0, 0, 0, 0)
	c.SetAt(0, 0, 1, 2)
	c.SetAt(0, 0, 2, 4)

	subtractMean(c)

	// Mean computed over unmasked samples only
	assert.Equal(t, float32(100), c.At(0, 0, 0)) // untouched
	assert.InDelta(t, -1, float64(c.At(0, 0, 1)), 1e-6)
	assert.InDelta(t, 1, float64(c.At(0, 0, 2)), 1e-6)
}

func TestProcessWithoutInjection(t *testing.T) {
	p, err := New(config.PreprocessConfig{Detrend: config.DetrendSubtractMean}, component.Dependencies{})
	require.NoError(t, err)

	c := testChunk(4, 2, 16)
	for i := range c.Intensity {
		c.Intensity[i] = 5
	}

	out, err := p.Process(c)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NPol)

	// Constant signal detrends to zero
	for tt := 0; tt < out.NTime; tt++ {
		assert.InDelta(t, 0, float64(out.At(0, 0, tt)), 1e-6)
	}
	// Input untouched
	assert.Equal(t, float32(5), c.At(0, 0, 0))
}

func TestProcessRejectsUnknownDetrend(t *testing.T) {
	_, err := New(config.PreprocessConfig{Detrend: "wavelet"}, component.Dependencies{})
	assert.Error(t, err)
}

func TestInjectorPaintsDispersedPulse(t *testing.T) {
	inj, err := NewInjector(config.InjectConfig{
		Rate:     1000, // fires immediately
		DM:       30,
		Fluence:  100,
		WidthSec: 0.001,
	}, component.Dependencies{})
	require.NoError(t, err)

	c := testChunk(16, 1, 4096)
	inj.Apply(c)

	// Pulse lands at the chunk midpoint at the top of the band.
	midT := c.NTime / 2
	assert.GreaterOrEqual(t, float64(c.At(0, 0, midT)), 100.0)

	// Lower channels arrive later (dispersion sweep).
	lastCh := c.NChan - 1
	var lastHit int
	for tt := 0; tt < c.NTime; tt++ {
		if c.At(lastCh, 0, tt) >= 100 {
			lastHit = tt
			break
		}
	}
	assert.Greater(t, lastHit, midT)
}

func TestInjectorRespectsRate(t *testing.T) {
	inj, err := NewInjector(config.InjectConfig{Rate: 0.5}, component.Dependencies{})
	require.NoError(t, err)

	// 10 chunks of 1 second each: ~5 events plus the initial token. A new
	// event always hits channel 0 in its own chunk (zero delay at the top
	// of the band).
	var events int
	for i := 0; i < 10; i++ {
		c := testChunk(4, 1, 1000)
		c.T0 = float64(i)
		inj.Apply(c)
		if countPulses(c) > 0 {
			events++
		}
	}
	assert.GreaterOrEqual(t, events, 4)
	assert.LessOrEqual(t, events, 7)
}

func countPulses(c *types.Chunk) int {
	n := 0
	for tt := 0; tt < c.NTime; tt++ {
		if c.At(0, 0, tt) > 0 {
			n++
		}
	}
	return n
}
