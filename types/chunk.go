// Package types contains shared domain types used across the pipeline:
// intensity chunks, detection candidates, and triggers.
package types

import (
	"fmt"

	"github.com/misanthropealoupe/ch-L1mock/errors"
)

// Chunk is a fixed-size window of intensity samples tagged with the band
// metadata supplied by the source. Data is laid out channel-major:
// index = (chan*NPol + pol)*NTime + time. Weight shares the layout; a zero
// weight marks a masked sample. Chunks are created by the source per time
// window and discarded after the last consumer is done with them.
type Chunk struct {
	// Seq is the monotonically increasing chunk sequence number.
	Seq uint64

	// T0 is the timestamp of the first sample, in seconds since the start
	// of the stream.
	T0 float64

	// DTSample is the sample spacing in seconds.
	DTSample float64

	// Band edges in MHz. Channel 0 sits at the high-frequency edge and
	// frequencies descend across channels, matching the FPGA channelization.
	FreqLoMHz float64
	FreqHiMHz float64

	NChan int
	NPol  int
	NTime int

	Intensity []float32
	Weight    []uint8
}

// NewChunk allocates a chunk with the given geometry. Weights start at full
// scale (255, no masking).
func NewChunk(nchan, npol, ntime int) *Chunk {
	n := nchan * npol * ntime
	c := &Chunk{
		NChan:     nchan,
		NPol:      npol,
		NTime:     ntime,
		Intensity: make([]float32, n),
		Weight:    make([]uint8, n),
	}
	for i := range c.Weight {
		c.Weight[i] = 255
	}
	return c
}

// Validate checks chunk geometry against its backing slices.
func (c *Chunk) Validate() error {
	if c.NChan <= 0 || c.NPol <= 0 || c.NTime <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("nchan=%d npol=%d ntime=%d", c.NChan, c.NPol, c.NTime),
			"Chunk", "Validate", "geometry check")
	}
	want := c.NChan * c.NPol * c.NTime
	if len(c.Intensity) != want || len(c.Weight) != want {
		return errors.WrapInvalid(errors.ErrChunkMismatch, "Chunk", "Validate", "slice length check")
	}
	if c.DTSample <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("dt_sample=%g", c.DTSample),
			"Chunk", "Validate", "sample spacing check")
	}
	if c.FreqHiMHz <= c.FreqLoMHz {
		return errors.WrapInvalid(
			fmt.Errorf("freq_lo=%g freq_hi=%g", c.FreqLoMHz, c.FreqHiMHz),
			"Chunk", "Validate", "band edge check")
	}
	return nil
}

// index returns the flat offset of (chan, pol, time).
func (c *Chunk) index(ch, pol, t int) int {
	return (ch*c.NPol+pol)*c.NTime + t
}

// At returns the intensity sample at (chan, pol, time).
func (c *Chunk) At(ch, pol, t int) float32 {
	return c.Intensity[c.index(ch, pol, t)]
}

// SetAt stores an intensity sample at (chan, pol, time).
func (c *Chunk) SetAt(ch, pol, t int, v float32) {
	c.Intensity[c.index(ch, pol, t)] = v
}

// WeightAt returns the weight at (chan, pol, time).
func (c *Chunk) WeightAt(ch, pol, t int) uint8 {
	return c.Weight[c.index(ch, pol, t)]
}

// SetWeightAt stores a weight at (chan, pol, time).
func (c *Chunk) SetWeightAt(ch, pol, t int, w uint8) {
	c.Weight[c.index(ch, pol, t)] = w
}

// FreqMHz returns the frequency of channel ch in MHz. Channel 0 is the
// high-frequency edge of the band.
func (c *Chunk) FreqMHz(ch int) float64 {
	return c.FreqHiMHz + float64(ch)*(c.FreqLoMHz-c.FreqHiMHz)/float64(c.NChan)
}

// TimeAt returns the timestamp of time sample t in seconds.
func (c *Chunk) TimeAt(t int) float64 {
	return c.T0 + float64(t)*c.DTSample
}

// Duration returns the time span covered by the chunk in seconds.
func (c *Chunk) Duration() float64 {
	return float64(c.NTime) * c.DTSample
}

// Clone returns a deep copy of the chunk.
func (c *Chunk) Clone() *Chunk {
	cp := *c
	cp.Intensity = make([]float32, len(c.Intensity))
	copy(cp.Intensity, c.Intensity)
	cp.Weight = make([]uint8, len(c.Weight))
	copy(cp.Weight, c.Weight)
	return &cp
}
