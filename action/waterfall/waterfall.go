// Package waterfall implements the save_waterfall_plot action: the
// preprocessed data around each trigger is rendered to a grayscale PNG,
// frequency on the vertical axis (high at the top, matching the band
// layout) and time on the horizontal.
package waterfall

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/action"
	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// DefaultWindowSec is the render window on either side of a trigger.
const DefaultWindowSec = 1.0

// Config is the save_waterfall_plot actions entry.
type Config struct {
	Type      string  `yaml:"type"`
	OutDir    string  `yaml:"out_dir"`
	WindowSec float64 `yaml:"window_sec,omitempty"`
}

// Action renders trigger windows to PNG files.
type Action struct {
	name   string
	outDir string
	window *action.Window
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	startTime time.Time
	errCount  int
}

// New creates the action from its actions entry.
func New(rawConfig []byte, deps component.Dependencies) (component.LifecycleComponent, error) {
	var cfg Config
	if err := yaml.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "WaterfallAction", "New", "config unmarshal")
	}
	if cfg.OutDir == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "WaterfallAction", "New", "out_dir required")
	}
	if cfg.WindowSec <= 0 {
		cfg.WindowSec = DefaultWindowSec
	}

	return &Action{
		name:   "save_waterfall_plot",
		outDir: cfg.OutDir,
		window: action.NewWindow(cfg.WindowSec),
		logger: deps.GetLoggerWithComponent("save_waterfall_plot"),
	}, nil
}

// Meta implements component.Component.
func (a *Action) Meta() component.Metadata {
	return component.Metadata{
		Name:        a.name,
		Type:        "action",
		Description: "render trigger windows to PNG waterfalls",
		Version:     "1.0.0",
	}
}

// Health implements component.Component.
func (a *Action) Health() component.HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := component.HealthStatus{
		Healthy:    a.running,
		LastCheck:  time.Now(),
		ErrorCount: a.errCount,
	}
	if a.running {
		h.Uptime = time.Since(a.startTime)
	}
	return h
}

// Initialize creates the output directory.
func (a *Action) Initialize() error {
	if err := os.MkdirAll(a.outDir, 0o755); err != nil {
		return errors.Wrap(err, "WaterfallAction", "Initialize", "create output directory")
	}
	return nil
}

// Start marks the action running.
func (a *Action) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = true
	a.startTime = time.Now()
	return nil
}

// Stop marks the action stopped.
func (a *Action) Stop(_ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	return nil
}

// ObserveChunk implements action.ChunkObserver.
func (a *Action) ObserveChunk(c *types.Chunk) {
	a.window.Observe(c)
}

// HandleTrigger renders the buffered window to a PNG named after the
// trigger ID.
func (a *Action) HandleTrigger(_ context.Context, trigger types.Trigger) error {
	chunks := a.window.Snapshot(trigger.Time)
	if len(chunks) == 0 {
		a.mu.Lock()
		a.errCount++
		a.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("no data buffered around t=%g", trigger.Time),
			"WaterfallAction", "HandleTrigger", "window snapshot")
	}

	img := Render(chunks)
	path := filepath.Join(a.outDir, fmt.Sprintf("trigger_%s.png", trigger.ID))

	f, err := os.Create(path)
	if err != nil {
		a.mu.Lock()
		a.errCount++
		a.mu.Unlock()
		return errors.Wrap(err, "WaterfallAction", "HandleTrigger", "create plot file")
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "WaterfallAction", "HandleTrigger", "encode png")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "WaterfallAction", "HandleTrigger", "close plot file")
	}

	a.logger.Info("waterfall saved", "trigger", trigger.ID, "file", path)
	return nil
}

// Render draws the chunks as a grayscale waterfall, polarizations averaged,
// intensity scaled to the 1st..99th percentile range. Masked samples render
// black.
func Render(chunks []*types.Chunk) *image.Gray {
	nchan := chunks[0].NChan
	var ntime int
	for _, c := range chunks {
		ntime += c.NTime
	}

	vals := make([]float64, 0, nchan*ntime)
	grid := make([]float64, nchan*ntime)
	mask := make([]bool, nchan*ntime)

	col := 0
	for _, c := range chunks {
		for t := 0; t < c.NTime; t++ {
			for ch := 0; ch < nchan && ch < c.NChan; ch++ {
				var sum, wsum float64
				for pol := 0; pol < c.NPol; pol++ {
					w := float64(c.WeightAt(ch, pol, t))
					sum += w * float64(c.At(ch, pol, t))
					wsum += w
				}
				idx := ch*ntime + col
				if wsum == 0 {
					mask[idx] = true
					continue
				}
				v := sum / wsum
				grid[idx] = v
				vals = append(vals, v)
			}
			col++
		}
	}

	lo, hi := percentileRange(vals, 0.01, 0.99)
	scale := hi - lo
	if scale <= 0 {
		scale = 1
	}

	img := image.NewGray(image.Rect(0, 0, ntime, nchan))
	for ch := 0; ch < nchan; ch++ {
		for t := 0; t < ntime; t++ {
			idx := ch*ntime + t
			if mask[idx] {
				img.SetGray(t, ch, color.Gray{Y: 0})
				continue
			}
			v := (grid[idx] - lo) / scale
			v = math.Max(0, math.Min(1, v))
			img.SetGray(t, ch, color.Gray{Y: uint8(v*254) + 1})
		}
	}
	return img
}

// percentileRange returns approximate low/high percentiles of vals using a
// coarse histogram, avoiding a full sort of large windows.
func percentileRange(vals []float64, plo, phi float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 1
	}
	mn, mx := vals[0], vals[0]
	for _, v := range vals {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	if mn == mx {
		return mn, mx
	}

	const nbins = 1024
	var hist [nbins]int
	for _, v := range vals {
		b := int((v - mn) / (mx - mn) * (nbins - 1))
		hist[b]++
	}

	lo, hi := mn, mx
	target := int(plo * float64(len(vals)))
	cum := 0
	for b := 0; b < nbins; b++ {
		cum += hist[b]
		if cum >= target {
			lo = mn + float64(b)/nbins*(mx-mn)
			break
		}
	}
	target = int(phi * float64(len(vals)))
	cum = 0
	for b := 0; b < nbins; b++ {
		cum += hist[b]
		if cum >= target {
			hi = mn + float64(b+1)/nbins*(mx-mn)
			break
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}
