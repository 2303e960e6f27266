package action

import (
	"sync"

	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Window buffers recent preprocessed chunks so an action can capture the
// data around a trigger. It keeps enough chunks to cover spanSec seconds on
// either side of a trigger time. Safe for one writer and concurrent
// snapshot readers.
type Window struct {
	spanSec float64

	mu     sync.Mutex
	chunks []*types.Chunk
}

// NewWindow creates a buffer covering spanSec seconds around a trigger.
func NewWindow(spanSec float64) *Window {
	return &Window{spanSec: spanSec}
}

// Observe appends a chunk and evicts chunks older than twice the span
// behind the newest data.
func (w *Window) Observe(c *types.Chunk) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.chunks = append(w.chunks, c)

	horizon := c.T0 + c.Duration() - 2*w.spanSec
	drop := 0
	for drop < len(w.chunks)-1 && w.chunks[drop].T0+w.chunks[drop].Duration() < horizon {
		drop++
	}
	w.chunks = w.chunks[drop:]
}

// Snapshot returns the buffered chunks overlapping [t-span, t+span], oldest
// first. May be shorter than the span when the trigger sits near the start
// of the stream or the data has not arrived yet.
func (w *Window) Snapshot(t float64) []*types.Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()

	lo, hi := t-w.spanSec, t+w.spanSec
	var out []*types.Chunk
	for _, c := range w.chunks {
		if c.T0+c.Duration() < lo || c.T0 > hi {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Len returns the number of buffered chunks.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.chunks)
}
