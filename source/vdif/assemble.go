package vdif

import (
	"log/slog"

	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/l0"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Assembler turns a stream of VDIF frames into integrated intensity chunks.
// Each frame carries one FPGA time sample for all channels of one
// polarization (thread ID). Frames integrate in bins of nframe samples;
// ntimeChunk bins make a chunk. Frames for bins already finalized are
// dropped; gaps finalize as masked bins.
//
// The assembler is single-goroutine; the source feeds it from its ingest
// loop.
type Assembler struct {
	nchan      int
	nframe     int
	ntimeChunk int
	acc        *l0.Accumulator
	logger     *slog.Logger

	// Current integration bin.
	curBin  int64
	haveBin bool
	rowEsq  [][]float32 // [ch*NPol+pol][nframe]
	rowMask [][]bool    // [pol][nframe]

	// Chunk under assembly.
	chunk    *types.Chunk
	chunkBin int64 // bin index of chunk sample 0
	filled   int

	seq          uint64
	LateFrames   uint64
	InvalidCount uint64
}

// NewAssembler creates an assembler for the given geometry.
func NewAssembler(nchan, nframe, ntimeChunk int, logger *slog.Logger) (*Assembler, error) {
	if nchan <= 0 || ntimeChunk <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Assembler", "NewAssembler", "geometry check")
	}
	acc, err := l0.NewAccumulator(nframe)
	if err != nil {
		return nil, err
	}

	a := &Assembler{
		nchan:      nchan,
		nframe:     nframe,
		ntimeChunk: ntimeChunk,
		acc:        acc,
		logger:     logger,
	}
	a.rowEsq = make([][]float32, nchan*l0.NPol)
	for i := range a.rowEsq {
		a.rowEsq[i] = make([]float32, nframe)
	}
	a.rowMask = make([][]bool, l0.NPol)
	for i := range a.rowMask {
		a.rowMask[i] = make([]bool, nframe)
	}
	return a, nil
}

// Ingest feeds one raw frame. Completed chunks are returned; most calls
// return nil.
func (a *Assembler) Ingest(frame []byte) ([]*types.Chunk, error) {
	h, err := DecodeHeader(frame)
	if err != nil {
		a.InvalidCount++
		return nil, err
	}
	if h.Invalid {
		a.InvalidCount++
		return nil, nil
	}
	if h.NChan() != a.nchan {
		a.InvalidCount++
		return nil, errors.WrapInvalid(errors.ErrInvalidFrame, "Assembler", "Ingest", "channel count check")
	}
	if int(h.ThreadID) >= l0.NPol {
		a.InvalidCount++
		return nil, errors.WrapInvalid(errors.ErrInvalidFrame, "Assembler", "Ingest", "thread id check")
	}
	payload := frame[HeaderSize:]
	if len(payload) < a.nchan {
		a.InvalidCount++
		return nil, errors.WrapInvalid(errors.ErrInvalidFrame, "Assembler", "Ingest", "payload length check")
	}

	frameRate := float64(l0.FPGAFrameRateHz)
	frameIdx := int64(h.Seconds)*int64(frameRate+0.5) + int64(h.FrameNumber)
	bin := frameIdx / int64(a.nframe)
	slot := int(frameIdx % int64(a.nframe))

	var done []*types.Chunk

	if !a.haveBin {
		a.startAt(bin)
	}
	if bin < a.curBin {
		a.LateFrames++
		return nil, nil
	}
	for bin > a.curBin {
		chunks, err := a.finalizeBin()
		if err != nil {
			return done, err
		}
		done = append(done, chunks...)
	}

	pol := int(h.ThreadID)
	a.rowMask[pol][slot] = true
	esq := make([]float32, a.nchan)
	DecodePower(payload[:a.nchan], esq)
	for ch := 0; ch < a.nchan; ch++ {
		a.rowEsq[ch*l0.NPol+pol][slot] = esq[ch]
	}
	return done, nil
}

// Flush finalizes the current bin and returns the partial chunk, if any.
// Called at end of stream.
func (a *Assembler) Flush() (*types.Chunk, error) {
	if !a.haveBin {
		return nil, nil
	}
	chunks, err := a.finalizeBin()
	if err != nil {
		return nil, err
	}
	if len(chunks) > 0 {
		return chunks[0], nil
	}
	if a.chunk == nil || a.filled == 0 {
		return nil, nil
	}
	// Trailing bins stay masked.
	c := a.chunk
	a.chunk = nil
	a.filled = 0
	return c, nil
}

func (a *Assembler) startAt(bin int64) {
	a.curBin = bin
	a.haveBin = true
	a.chunkBin = bin
	a.clearBin()
}

func (a *Assembler) clearBin() {
	for _, row := range a.rowEsq {
		for i := range row {
			row[i] = 0
		}
	}
	for _, m := range a.rowMask {
		for i := range m {
			m[i] = false
		}
	}
}

// finalizeBin integrates the current bin into the chunk under assembly and
// advances to the next bin, emitting the chunk when it fills.
func (a *Assembler) finalizeBin() ([]*types.Chunk, error) {
	if a.chunk == nil {
		a.chunk = a.newChunk()
	}

	t := int(a.curBin - a.chunkBin)
	intensity := make([]float32, 1)
	weight := make([]uint8, 1)
	for ch := 0; ch < a.nchan; ch++ {
		for pol := 0; pol < l0.NPol; pol++ {
			err := a.acc.AccumulateRow(a.rowEsq[ch*l0.NPol+pol], a.rowMask[pol], intensity, weight)
			if err != nil {
				return nil, err
			}
			a.chunk.SetAt(ch, pol, t, intensity[0])
			a.chunk.SetWeightAt(ch, pol, t, weight[0])
		}
	}
	a.filled++
	a.curBin++
	a.clearBin()

	if a.filled == a.ntimeChunk {
		c := a.chunk
		a.chunk = nil
		a.filled = 0
		a.chunkBin = a.curBin
		return []*types.Chunk{c}, nil
	}
	return nil, nil
}

func (a *Assembler) newChunk() *types.Chunk {
	c := types.NewChunk(a.nchan, l0.NPol, a.ntimeChunk)
	c.Seq = a.seq
	a.seq++
	c.DTSample = l0.DeltaT(a.nframe)
	c.T0 = l0.FrameTime0(a.chunkBin*int64(a.nframe), a.nframe)
	c.FreqLoMHz = l0.FreqLoMHz
	c.FreqHiMHz = l0.FreqHiMHz

	// Bins start fully masked; finalizeBin overwrites what arrived.
	for i := range c.Weight {
		c.Weight[i] = 0
	}
	return c
}
