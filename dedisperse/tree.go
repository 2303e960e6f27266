package dedisperse

import (
	"log/slog"
	"math"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/config"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/l0"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

const (
	// emitFloor is the minimum significance for a candidate to leave the
	// tree at all. The sifter applies the configured trigger threshold;
	// this floor only keeps the candidate stream bounded.
	emitFloor = 5.0

	// statsWarmup is the number of samples the baseline estimator must see
	// before candidates are emitted.
	statsWarmup = 512

	// statsAlpha is the EMA weight for the baseline estimator.
	statsAlpha = 1.0 / 4096
)

// Tree performs a brute-force incoherent dedispersion search over one
// downsampling configuration. Each tree downsamples the input by nds,
// searches treeSize*nups DM trials spanning ntTree downsampled samples of
// dispersion delay, and smooths each trial series with doubling boxcar
// widths. Trees keep cross-chunk history so pulses spanning chunk
// boundaries are not lost. A Tree is not safe for concurrent use; the pool
// runs one goroutine per tree.
type Tree struct {
	index  int
	nds    int
	ntTree int
	ndm    int
	widths []int

	logger *slog.Logger

	// Geometry, fixed by the first chunk.
	initialized bool
	nchan       int
	dtDown      float64
	freqHi      float64
	dmStep      float64
	delays      [][]int // [trial][chan], in downsampled samples
	maxDelay    int

	// Per-channel downsampled history. buf[ch][i] is the detrended
	// intensity at time bufT0 + i*dtDown. All channels share the same
	// length and origin.
	buf   [][]float32
	bufT0 float64

	// Partial downsample accumulators, one per channel.
	partSum   []float64
	partW     []float64
	partCount int

	// Baseline estimators, one per boxcar width.
	stats []*runningStats
}

// NewTree creates the tree at position index of the trees list.
func NewTree(index int, spec config.TreeSpec, d config.DedisperseConfig, deps component.Dependencies) (*Tree, error) {
	if spec.NDS <= 0 || spec.NTTree <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Tree", "NewTree", "tree spec validation")
	}

	ndm := d.TreeSize * d.NUps
	if ndm < 2 {
		ndm = 2
	}

	// Boxcar widths double per step, capped at 2^sm_depth.
	maxWidth := 1 << d.SMDepth
	widths := make([]int, 0, d.NSM)
	for i := 0; i < d.NSM; i++ {
		w := 1 << i
		if w > maxWidth {
			break
		}
		widths = append(widths, w)
	}
	if len(widths) == 0 {
		widths = []int{1}
	}

	t := &Tree{
		index:  index,
		nds:    spec.NDS,
		ntTree: spec.NTTree,
		ndm:    ndm,
		widths: widths,
		logger: deps.GetLoggerWithComponent("dedisperse").With("tree", index),
	}
	t.stats = make([]*runningStats, len(widths))
	for i := range t.stats {
		t.stats[i] = newRunningStats(statsAlpha)
	}
	return t, nil
}

// DMMax returns the largest trial DM, defined after the first chunk.
func (t *Tree) DMMax() float64 {
	return t.dmStep * float64(t.ndm-1)
}

// initGeometry derives the DM grid and per-channel delays from the first
// chunk's band metadata. The delay span of the highest trial at the lowest
// channel is ntTree downsampled samples.
func (t *Tree) initGeometry(c *types.Chunk) {
	t.nchan = c.NChan
	t.dtDown = c.DTSample * float64(t.nds)
	t.freqHi = c.FreqHiMHz
	t.bufT0 = c.T0

	fLo := c.FreqMHz(c.NChan - 1)
	span := l0.KDMSecMHz2 * (1/(fLo*fLo) - 1/(t.freqHi*t.freqHi))
	dmMax := float64(t.ntTree) * t.dtDown / span
	t.dmStep = dmMax / float64(t.ndm-1)

	t.delays = make([][]int, t.ndm)
	t.maxDelay = 0
	for d := 0; d < t.ndm; d++ {
		dm := t.dmStep * float64(d)
		t.delays[d] = make([]int, t.nchan)
		for ch := 0; ch < t.nchan; ch++ {
			f := c.FreqMHz(ch)
			delaySec := l0.KDMSecMHz2 * dm * (1/(f*f) - 1/(t.freqHi*t.freqHi))
			lag := int(delaySec/t.dtDown + 0.5)
			t.delays[d][ch] = lag
			if lag > t.maxDelay {
				t.maxDelay = lag
			}
		}
	}

	t.buf = make([][]float32, t.nchan)
	t.partSum = make([]float64, t.nchan)
	t.partW = make([]float64, t.nchan)

	t.initialized = true
	t.logger.Info("tree geometry initialized",
		"nds", t.nds, "nt_tree", t.ntTree, "ndm", t.ndm,
		"dm_max", dmMax, "dt_down", t.dtDown, "max_delay", t.maxDelay)
}

// Process folds one preprocessed chunk into the search and returns any
// candidates completed by it. Chunks must arrive in stream order and carry
// a single polarization.
func (t *Tree) Process(c *types.Chunk) ([]types.Candidate, error) {
	if c.NPol != 1 {
		return nil, errors.WrapInvalid(errors.ErrChunkMismatch, "Tree", "Process", "single polarization required")
	}
	if !t.initialized {
		t.initGeometry(c)
	}
	if c.NChan != t.nchan {
		return nil, errors.WrapInvalid(errors.ErrChunkMismatch, "Tree", "Process", "channel count changed mid-stream")
	}

	t.downsample(c)
	return t.search(), nil
}

// downsample folds the chunk into the per-channel history, weight-averaging
// nds raw samples per downsampled bin. Fully masked bins become zero, which
// is the detrended baseline.
func (t *Tree) downsample(c *types.Chunk) {
	for ts := 0; ts < c.NTime; ts++ {
		for ch := 0; ch < t.nchan; ch++ {
			w := float64(c.WeightAt(ch, 0, ts))
			t.partSum[ch] += w * float64(c.At(ch, 0, ts))
			t.partW[ch] += w
		}
		t.partCount++
		if t.partCount == t.nds {
			for ch := 0; ch < t.nchan; ch++ {
				var v float32
				if t.partW[ch] > 0 {
					v = float32(t.partSum[ch] / t.partW[ch])
				}
				t.buf[ch] = append(t.buf[ch], v)
				t.partSum[ch] = 0
				t.partW[ch] = 0
			}
			t.partCount = 0
		}
	}
}

// search runs every DM trial over the history region that is now complete
// (all shifted samples available) and trims the consumed prefix.
func (t *Tree) search() []types.Candidate {
	avail := len(t.buf[0])
	nOut := avail - t.maxDelay
	if nOut <= 0 {
		return nil
	}

	norm := 1.0 / math.Sqrt(float64(t.nchan))
	var cands []types.Candidate

	series := make([]float64, nOut)
	for d := 0; d < t.ndm; d++ {
		lags := t.delays[d]
		for i := 0; i < nOut; i++ {
			var sum float64
			for ch := 0; ch < t.nchan; ch++ {
				sum += float64(t.buf[ch][i+lags[ch]])
			}
			series[i] = sum * norm
		}

		if best, ok := t.bestDetection(series); ok {
			best.Tree = t.index
			best.DM = t.dmStep * float64(d)
			cands = append(cands, best)
		}
	}

	// Drop the consumed prefix; later output times only look forward.
	for ch := range t.buf {
		t.buf[ch] = t.buf[ch][nOut:]
	}
	t.bufT0 += float64(nOut) * t.dtDown

	return cands
}

// bestDetection smooths one trial series with every boxcar width, updates
// the baseline estimators, and returns the most significant sample if it
// clears the emit floor. Time is reported at the high-frequency edge.
func (t *Tree) bestDetection(series []float64) (types.Candidate, bool) {
	var best types.Candidate
	found := false

	for wi, w := range t.widths {
		st := t.stats[wi]
		var acc float64
		for i := range series {
			acc += series[i]
			if i >= w {
				acc -= series[i-w]
			}
			if i < w-1 {
				continue
			}
			x := acc / math.Sqrt(float64(w))
			snr := st.snr(x)
			st.update(x)
			if st.count() < statsWarmup {
				continue
			}
			if snr >= emitFloor && (!found || snr > best.SNR) {
				best = types.Candidate{
					Time:  t.bufT0 + float64(i-w+1)*t.dtDown,
					SNR:   snr,
					Width: w,
				}
				found = true
			}
		}
	}
	return best, found
}
