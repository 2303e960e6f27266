package l0

import (
	"fmt"
	"math"

	"github.com/misanthropealoupe/ch-L1mock/errors"
)

// Accumulator integrates blocks of nframe baseband power samples into single
// intensity samples with byte weights. The weight records the fraction of
// unmasked input samples scaled to 0..255, and the intensity is renormalized
// for missing data so that a partially masked bin remains comparable to a
// fully sampled one.
type Accumulator struct {
	nframe int
}

// NewAccumulator creates an accumulator integrating nframe samples per
// output bin.
func NewAccumulator(nframe int) (*Accumulator, error) {
	if nframe <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nframe_integrate=%d", nframe),
			"Accumulator", "NewAccumulator", "integration length check")
	}
	return &Accumulator{nframe: nframe}, nil
}

// NFrame returns the integration length.
func (a *Accumulator) NFrame() int {
	return a.nframe
}

// AccumulateRow integrates one channel-polarization row of baseband power
// samples. esq holds |E|^2 per input sample and mask marks valid samples.
// len(esq) must be a multiple of nframe; intensity and weight receive
// len(esq)/nframe outputs.
func (a *Accumulator) AccumulateRow(esq []float32, mask []bool, intensity []float32, weight []uint8) error {
	nt := len(esq)
	if nt%a.nframe != 0 {
		return errors.WrapInvalid(
			fmt.Errorf("number of samples to accumulate (%d) must evenly divide number of samples (%d)",
				a.nframe, nt),
			"Accumulator", "AccumulateRow", "sample count check")
	}
	if len(mask) != nt {
		return errors.WrapInvalid(errors.ErrChunkMismatch, "Accumulator", "AccumulateRow", "mask length check")
	}
	nout := nt / a.nframe
	if len(intensity) != nout || len(weight) != nout {
		return errors.WrapInvalid(errors.ErrChunkMismatch, "Accumulator", "AccumulateRow", "output length check")
	}

	for i := 0; i < nout; i++ {
		var sum float64
		var count int
		base := i * a.nframe
		for j := 0; j < a.nframe; j++ {
			if mask[base+j] {
				sum += float64(esq[base+j])
				count++
			}
		}

		if count == 0 {
			intensity[i] = 0
			weight[i] = 0
			continue
		}

		// Renormalize for missing data, then scale the weight to a byte.
		intensity[i] = float32(sum * float64(a.nframe) / float64(count))
		weight[i] = uint8(math.Round(255 * float64(count) / float64(a.nframe)))
	}

	return nil
}
