package preprocess

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/config"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/l0"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Injection defaults for keys omitted from the inject mapping.
const (
	DefaultInjectDM      = 60.0
	DefaultInjectFluence = 50.0
	DefaultInjectWidth   = 0.005
)

// event is one scheduled synthetic pulse: the arrival time of the pulse at
// the top of the band, in data seconds.
type event struct {
	t0 float64
}

// Injector adds synthetic dispersed pulses to chunks at a configured mean
// rate. Scheduling runs on the data clock, not wall time: the token bucket
// is advanced by each chunk's end timestamp, so injection is deterministic
// for a given stream regardless of processing speed.
type Injector struct {
	dm      float64
	fluence float64
	width   float64

	limiter *rate.Limiter
	epoch   time.Time

	// Events whose dispersed sweep has not fully passed yet. High DMs can
	// span several chunks.
	pending []event

	logger *slog.Logger
}

// NewInjector creates an injector from the inject config section.
func NewInjector(cfg config.InjectConfig, deps component.Dependencies) (*Injector, error) {
	if cfg.Rate <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Injector", "NewInjector", "rate must be > 0")
	}

	inj := &Injector{
		dm:      cfg.DM,
		fluence: cfg.Fluence,
		width:   cfg.WidthSec,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		epoch:   time.Unix(0, 0).UTC(),
		logger:  deps.GetLoggerWithComponent("inject"),
	}
	if inj.dm <= 0 {
		inj.dm = DefaultInjectDM
	}
	if inj.fluence <= 0 {
		inj.fluence = DefaultInjectFluence
	}
	if inj.width <= 0 {
		inj.width = DefaultInjectWidth
	}
	return inj, nil
}

// dataTime maps a stream timestamp onto the limiter's clock.
func (inj *Injector) dataTime(sec float64) time.Time {
	return inj.epoch.Add(time.Duration(sec * float64(time.Second)))
}

// sweepSec returns the total dispersion sweep across the chunk's band.
func (inj *Injector) sweepSec(c *types.Chunk) float64 {
	lo, hi := c.FreqLoMHz, c.FreqHiMHz
	return l0.KDMSecMHz2 * inj.dm * (1/(lo*lo) - 1/(hi*hi))
}

// Apply schedules any events falling within the chunk's time window and
// paints all active events into the chunk. Must be called with chunks in
// stream order.
func (inj *Injector) Apply(c *types.Chunk) {
	end := c.T0 + c.Duration()

	// Drain tokens that became available up to the chunk's end time. Each
	// token is one pulse, placed at the chunk midpoint.
	for inj.limiter.AllowN(inj.dataTime(end), 1) {
		ev := event{t0: c.T0 + c.Duration()/2}
		inj.pending = append(inj.pending, ev)
		inj.logger.Info("injecting synthetic pulse",
			"t0", ev.t0, "dm", inj.dm, "chunk_seq", c.Seq)
	}

	sweep := inj.sweepSec(c)
	kept := inj.pending[:0]
	for _, ev := range inj.pending {
		inj.paint(c, ev)
		if ev.t0+sweep+inj.width >= end {
			kept = append(kept, ev)
		}
	}
	inj.pending = kept
}

// paint adds the event's dispersed track to the chunk. Masked samples are
// skipped; the pulse occupies at least one sample per channel.
func (inj *Injector) paint(c *types.Chunk, ev event) {
	fHi := c.FreqHiMHz
	for ch := 0; ch < c.NChan; ch++ {
		f := c.FreqMHz(ch)
		arrival := ev.t0 + l0.KDMSecMHz2*inj.dm*(1/(f*f)-1/(fHi*fHi))

		tStart := int((arrival - c.T0) / c.DTSample)
		tEnd := int((arrival + inj.width - c.T0) / c.DTSample)
		if tEnd < tStart+1 {
			tEnd = tStart + 1
		}
		if tEnd <= 0 || tStart >= c.NTime {
			continue
		}
		if tStart < 0 {
			tStart = 0
		}
		if tEnd > c.NTime {
			tEnd = c.NTime
		}

		for pol := 0; pol < c.NPol; pol++ {
			for t := tStart; t < tEnd; t++ {
				if c.WeightAt(ch, pol, t) == 0 {
					continue
				}
				c.SetAt(ch, pol, t, c.At(ch, pol, t)+float32(inj.fluence))
			}
		}
	}
}
