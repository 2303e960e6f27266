// Package preprocess conditions intensity chunks before dedispersion:
// polarization collapse, per-channel detrending, and optional synthetic
// dispersed-pulse injection.
package preprocess

import (
	"fmt"
	"log/slog"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/config"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Preprocessor applies the configured per-chunk conditioning. It is a plain
// pipeline stage driven by the engine, not a registry component.
type Preprocessor struct {
	detrend  string
	injector *Injector
	logger   *slog.Logger
}

// New creates a preprocessor from the preprocess config section.
func New(cfg config.PreprocessConfig, deps component.Dependencies) (*Preprocessor, error) {
	p := &Preprocessor{
		detrend: cfg.Detrend,
		logger:  deps.GetLoggerWithComponent("preprocess"),
	}

	switch cfg.Detrend {
	case config.DetrendSubtractMean, config.DetrendNone:
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("detrend mode '%s'", cfg.Detrend),
			"Preprocessor", "New", "detrend mode validation")
	}

	if cfg.Inject != nil {
		inj, err := NewInjector(*cfg.Inject, deps)
		if err != nil {
			return nil, err
		}
		p.injector = inj
		p.logger.Info("synthetic injection enabled",
			"rate_hz", cfg.Inject.Rate, "dm", inj.dm, "fluence", inj.fluence)
	}

	return p, nil
}

// Process conditions one chunk: collapse polarizations, detrend, inject.
// The returned chunk is single-polarization; the input is not modified.
func (p *Preprocessor) Process(chunk *types.Chunk) (*types.Chunk, error) {
	if err := chunk.Validate(); err != nil {
		return nil, errors.Wrap(err, "Preprocessor", "Process", "chunk validation")
	}

	out := collapsePolarizations(chunk)

	if p.detrend == config.DetrendSubtractMean {
		subtractMean(out)
	}

	if p.injector != nil {
		p.injector.Apply(out)
	}

	return out, nil
}

// collapsePolarizations reduces a chunk to a single polarization by
// weight-averaging the pols per (channel, time) bin. The collapsed weight is
// the mean of the pol weights; an all-masked bin stays (0, 0).
func collapsePolarizations(c *types.Chunk) *types.Chunk {
	out := types.NewChunk(c.NChan, 1, c.NTime)
	out.Seq = c.Seq
	out.T0 = c.T0
	out.DTSample = c.DTSample
	out.FreqLoMHz = c.FreqLoMHz
	out.FreqHiMHz = c.FreqHiMHz

	for ch := 0; ch < c.NChan; ch++ {
		for t := 0; t < c.NTime; t++ {
			var wsum, isum float64
			for pol := 0; pol < c.NPol; pol++ {
				w := float64(c.WeightAt(ch, pol, t))
				wsum += w
				isum += w * float64(c.At(ch, pol, t))
			}
			if wsum == 0 {
				out.SetAt(ch, 0, t, 0)
				out.SetWeightAt(ch, 0, t, 0)
				continue
			}
			out.SetAt(ch, 0, t, float32(isum/wsum))
			out.SetWeightAt(ch, 0, t, uint8(wsum/float64(c.NPol)+0.5))
		}
	}
	return out
}

// subtractMean removes the per-channel weighted mean over the chunk's time
// axis. Masked samples do not contribute to the mean and are left at zero.
func subtractMean(c *types.Chunk) {
	for ch := 0; ch < c.NChan; ch++ {
		var sum, wsum float64
		for t := 0; t < c.NTime; t++ {
			w := float64(c.WeightAt(ch, 0, t))
			sum += w * float64(c.At(ch, 0, t))
			wsum += w
		}
		if wsum == 0 {
			continue
		}
		mean := float32(sum / wsum)
		for t := 0; t < c.NTime; t++ {
			if c.WeightAt(ch, 0, t) == 0 {
				continue
			}
			c.SetAt(ch, 0, t, c.At(ch, 0, t)-mean)
		}
	}
}
