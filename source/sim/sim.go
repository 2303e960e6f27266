// Package sim provides a deterministic simulated chunk source. Sample
// values follow the correlator dummy-data convention (intensity =
// freq * pol * time) with a fixed masking pattern, so downstream stages can
// be verified against closed-form expectations. Masked samples carry zero
// weight and zero intensity.
package sim

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/l0"
	"github.com/misanthropealoupe/ch-L1mock/source"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

const outDepth = 2

// Source generates dummy intensity chunks on the FPGA band.
type Source struct {
	name       string
	ntimeChunk int
	nframe     int
	nchan      int
	realtime   bool

	out    chan *types.Chunk
	logger *slog.Logger

	lifecycleMu sync.Mutex
	running     bool
	startTime   time.Time
	shutdown    chan struct{}
	done        chan struct{}
}

// New creates a simulated source from a factory config document.
func New(rawConfig []byte, deps component.Dependencies) (component.LifecycleComponent, error) {
	var cfg source.FactoryConfig
	if err := yaml.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "SimSource", "New", "config unmarshal")
	}
	if cfg.NTimeChunk <= 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "SimSource", "New", "ntime_chunk required")
	}
	if cfg.NFrameIntegrate <= 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "SimSource", "New", "nframe_integrate required")
	}
	nchan := cfg.NChan
	if nchan <= 0 {
		nchan = l0.FPGANFreq
	}

	return &Source{
		name:       "sim-source",
		ntimeChunk: cfg.NTimeChunk,
		nframe:     cfg.NFrameIntegrate,
		nchan:      nchan,
		realtime:   cfg.Realtime,
		logger:     deps.GetLoggerWithComponent("sim-source"),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Meta implements component.Component.
func (s *Source) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "source",
		Description: "deterministic dummy-data chunk generator",
		Version:     "1.0.0",
	}
}

// Health implements component.Component.
func (s *Source) Health() component.HealthStatus {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	h := component.HealthStatus{Healthy: s.running, LastCheck: time.Now()}
	if s.running {
		h.Uptime = time.Since(s.startTime)
	}
	return h
}

// Chunks implements source.Source.
func (s *Source) Chunks() <-chan *types.Chunk {
	return s.out
}

// Initialize allocates the output channel.
func (s *Source) Initialize() error {
	s.out = make(chan *types.Chunk, outDepth)
	return nil
}

// Start begins chunk production.
func (s *Source) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "SimSource", "Start", "check running state")
	}
	s.running = true
	s.startTime = time.Now()

	go s.produce(ctx)

	s.logger.Info("simulated source started",
		"nchan", s.nchan, "ntime_chunk", s.ntimeChunk,
		"nframe_integrate", s.nframe, "realtime", s.realtime)
	return nil
}

// Stop halts production and waits for the producer to exit.
func (s *Source) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return nil
	}
	close(s.shutdown)

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "SimSource", "Stop", "producer shutdown")
	}
	s.running = false
	return nil
}

func (s *Source) produce(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)

	dt := l0.DeltaT(s.nframe)
	chunkDur := time.Duration(float64(s.ntimeChunk) * dt * float64(time.Second))

	var seq uint64
	var frame int64
	for {
		c := s.makeChunk(seq, frame)
		select {
		case s.out <- c:
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		}
		seq++
		frame += int64(s.ntimeChunk * s.nframe)

		if s.realtime {
			select {
			case <-time.After(chunkDur):
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			}
		}
	}
}

// makeChunk fills one chunk with the dummy-data pattern: value =
// freq_Hz * pol_factor * time_sec with pol factors {1, 2}. Two independent
// mask conditions apply across their full axes: every channel is masked at
// times with (t_sec*100) mod 20 < 1, and every time sample is masked on
// channels with (freq_MHz) mod 40 < 1. Masked samples are zeroed.
func (s *Source) makeChunk(seq uint64, frame int64) *types.Chunk {
	c := types.NewChunk(s.nchan, l0.NPol, s.ntimeChunk)
	c.Seq = seq
	c.DTSample = l0.DeltaT(s.nframe)
	c.T0 = l0.FrameTime0(frame, s.nframe)
	c.FreqLoMHz = l0.FreqLoMHz
	c.FreqHiMHz = l0.FreqHiMHz

	for ch := 0; ch < c.NChan; ch++ {
		freqHz := c.FreqMHz(ch) * 1e6
		freqMasked := math.Mod(freqHz/1e6, 40) < 1
		for t := 0; t < c.NTime; t++ {
			tSec := c.TimeAt(t)
			if freqMasked || math.Mod(tSec*100, 20) < 1 {
				for pol := 0; pol < c.NPol; pol++ {
					c.SetWeightAt(ch, pol, t, 0)
				}
				continue
			}
			for pol := 0; pol < c.NPol; pol++ {
				c.SetAt(ch, pol, t, float32(freqHz*float64(pol+1)*tSec))
			}
		}
	}
	return c
}
