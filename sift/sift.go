// Package sift turns raw dedispersion candidates into triggers: it applies
// the configured significance threshold and collapses coincident detections
// of the same event (neighboring DM trials, boxcar widths, and trees) into
// a single trigger carrying the best SNR.
package sift

import (
	"context"
	"log/slog"
	"math"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/config"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Coincidence windows for deduplication. Candidates within both windows of
// an open trigger group are merged into it.
const (
	DefaultTimeWindowSec = 0.1
	DefaultDMWindow      = 5.0
)

// group is an open coincidence group: the best candidate seen so far plus
// the hit count and the latest arrival time observed.
type group struct {
	best     types.Candidate
	nHits    int
	lastSeen float64
}

// Sifter thresholds and deduplicates candidates. It is a single-goroutine
// stage; Run owns all state.
type Sifter struct {
	threshold  float64
	timeWindow float64
	dmWindow   float64
	logger     *slog.Logger

	groups []*group
}

// Option adjusts sifter tuning.
type Option func(*Sifter)

// WithWindows overrides the coincidence windows.
func WithWindows(timeSec, dm float64) Option {
	return func(s *Sifter) {
		s.timeWindow = timeSec
		s.dmWindow = dm
	}
}

// New creates a sifter from the postprocess config section.
func New(cfg config.PostprocessConfig, deps component.Dependencies, opts ...Option) (*Sifter, error) {
	if cfg.Threshold <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Sifter", "New", "threshold must be > 0")
	}
	s := &Sifter{
		threshold:  cfg.Threshold,
		timeWindow: DefaultTimeWindowSec,
		dmWindow:   DefaultDMWindow,
		logger:     deps.GetLoggerWithComponent("sift"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Threshold returns the configured trigger threshold.
func (s *Sifter) Threshold() float64 {
	return s.threshold
}

// Offer feeds one candidate and returns any triggers whose coincidence
// groups it closed. Candidates arrive roughly time-ordered; a group closes
// when a candidate arrives more than the time window past its last hit.
func (s *Sifter) Offer(c types.Candidate) []types.Trigger {
	triggers := s.closeExpired(c.Time)

	if c.SNR < s.threshold {
		return triggers
	}

	for _, g := range s.groups {
		if math.Abs(c.Time-g.best.Time) <= s.timeWindow && math.Abs(c.DM-g.best.DM) <= s.dmWindow {
			g.nHits++
			if c.Time > g.lastSeen {
				g.lastSeen = c.Time
			}
			if c.SNR > g.best.SNR {
				g.best = c
			}
			return triggers
		}
	}

	s.groups = append(s.groups, &group{best: c, nHits: 1, lastSeen: c.Time})
	return triggers
}

// Flush closes all open groups, emitting their triggers. Called at end of
// stream.
func (s *Sifter) Flush() []types.Trigger {
	return s.closeExpired(math.Inf(1))
}

func (s *Sifter) closeExpired(now float64) []types.Trigger {
	var triggers []types.Trigger
	kept := s.groups[:0]
	for _, g := range s.groups {
		if now-g.lastSeen > s.timeWindow {
			trig := types.NewTrigger(g.best)
			trig.NHits = g.nHits
			triggers = append(triggers, trig)
			s.logger.Info("trigger",
				"id", trig.ID, "time", trig.Time, "dm", trig.DM,
				"snr", trig.SNR, "width", trig.Width, "n_hits", trig.NHits)
			continue
		}
		kept = append(kept, g)
	}
	s.groups = kept
	return triggers
}

// Run consumes candidates until in closes or ctx is cancelled, writing
// surviving triggers to out. out is not closed; the caller owns it.
func (s *Sifter) Run(ctx context.Context, in <-chan types.Candidate, out chan<- types.Trigger) error {
	emit := func(trigs []types.Trigger) error {
		for _, t := range trigs {
			select {
			case out <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-in:
			if !ok {
				return emit(s.Flush())
			}
			if err := emit(s.Offer(c)); err != nil {
				return err
			}
		}
	}
}
