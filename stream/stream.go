// Package stream implements the on-disk intensity stream format. Acquisition
// files written by the save_raw_data action are read back by the disk source,
// so a saved acquisition can be replayed through the full pipeline.
//
// A stream file is a magic string followed by a sequence of records. Each
// record carries a JSON header describing the chunk geometry, then the raw
// little-endian float32 intensity samples and byte weights.
package stream

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Magic identifies an intensity stream file, including a format version.
const Magic = "L1INT001"

// maxHeaderLen bounds record headers so a corrupt length prefix cannot
// trigger a huge allocation.
const maxHeaderLen = 1 << 16

// recordHeader is the JSON header preceding each chunk record.
type recordHeader struct {
	Seq       uint64  `json:"seq"`
	T0        float64 `json:"t0"`
	DTSample  float64 `json:"dt_sample"`
	FreqLoMHz float64 `json:"freq_lo_mhz"`
	FreqHiMHz float64 `json:"freq_hi_mhz"`
	NChan     int     `json:"nchan"`
	NPol      int     `json:"npol"`
	NTime     int     `json:"ntime"`
}

// Writer appends chunk records to an intensity stream.
type Writer struct {
	w   *bufio.Writer
	c   io.Closer
	err error
}

// NewWriter wraps w and writes the stream magic.
func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Magic); err != nil {
		return nil, errors.WrapTransient(err, "stream.Writer", "NewWriter", "write magic")
	}
	sw := &Writer{w: bw}
	if c, ok := w.(io.Closer); ok {
		sw.c = c
	}
	return sw, nil
}

// Create opens (truncating) a stream file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "stream.Writer", "Create", "open file")
	}
	w, err := NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// WriteChunk appends one chunk record.
func (w *Writer) WriteChunk(c *types.Chunk) error {
	if w.err != nil {
		return w.err
	}
	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "stream.Writer", "WriteChunk", "chunk validation")
	}

	hdr := recordHeader{
		Seq:       c.Seq,
		T0:        c.T0,
		DTSample:  c.DTSample,
		FreqLoMHz: c.FreqLoMHz,
		FreqHiMHz: c.FreqHiMHz,
		NChan:     c.NChan,
		NPol:      c.NPol,
		NTime:     c.NTime,
	}
	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		w.err = errors.WrapFatal(err, "stream.Writer", "WriteChunk", "header marshal")
		return w.err
	}

	if err := binary.Write(w.w, binary.LittleEndian, uint32(len(hdrBytes))); err != nil {
		w.err = errors.WrapTransient(err, "stream.Writer", "WriteChunk", "write header length")
		return w.err
	}
	if _, err := w.w.Write(hdrBytes); err != nil {
		w.err = errors.WrapTransient(err, "stream.Writer", "WriteChunk", "write header")
		return w.err
	}
	if err := binary.Write(w.w, binary.LittleEndian, c.Intensity); err != nil {
		w.err = errors.WrapTransient(err, "stream.Writer", "WriteChunk", "write intensity")
		return w.err
	}
	if _, err := w.w.Write(c.Weight); err != nil {
		w.err = errors.WrapTransient(err, "stream.Writer", "WriteChunk", "write weight")
		return w.err
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// Close flushes and closes the underlying file, if any.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		if w.c != nil {
			_ = w.c.Close()
		}
		return err
	}
	if w.c != nil {
		return w.c.Close()
	}
	return nil
}

// Reader iterates the chunk records of an intensity stream.
type Reader struct {
	r *bufio.Reader
	c io.Closer
}

// NewReader wraps r and validates the stream magic.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, errors.WrapInvalid(err, "stream.Reader", "NewReader", "read magic")
	}
	if string(magic) != Magic {
		return nil, errors.WrapInvalid(
			fmt.Errorf("bad magic %q", magic),
			"stream.Reader", "NewReader", "magic check")
	}
	sr := &Reader{r: br}
	if c, ok := r.(io.Closer); ok {
		sr.c = c
	}
	return sr, nil
}

// Open opens a stream file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "stream.Reader", "Open", "open file")
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// ReadChunk reads the next chunk record. Returns io.EOF at a clean end of
// stream.
func (r *Reader) ReadChunk() (*types.Chunk, error) {
	var hdrLen uint32
	if err := binary.Read(r.r, binary.LittleEndian, &hdrLen); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.WrapInvalid(err, "stream.Reader", "ReadChunk", "read header length")
	}
	if hdrLen == 0 || hdrLen > maxHeaderLen {
		return nil, errors.WrapInvalid(
			fmt.Errorf("header length %d", hdrLen),
			"stream.Reader", "ReadChunk", "header length check")
	}

	hdrBytes := make([]byte, hdrLen)
	if _, err := io.ReadFull(r.r, hdrBytes); err != nil {
		return nil, errors.WrapInvalid(err, "stream.Reader", "ReadChunk", "read header")
	}
	var hdr recordHeader
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, errors.WrapInvalid(err, "stream.Reader", "ReadChunk", "header unmarshal")
	}
	if hdr.NChan <= 0 || hdr.NPol <= 0 || hdr.NTime <= 0 {
		return nil, errors.WrapInvalid(errors.ErrDataCorrupted, "stream.Reader", "ReadChunk", "geometry check")
	}

	c := types.NewChunk(hdr.NChan, hdr.NPol, hdr.NTime)
	c.Seq = hdr.Seq
	c.T0 = hdr.T0
	c.DTSample = hdr.DTSample
	c.FreqLoMHz = hdr.FreqLoMHz
	c.FreqHiMHz = hdr.FreqHiMHz

	if err := binary.Read(r.r, binary.LittleEndian, c.Intensity); err != nil {
		return nil, errors.WrapInvalid(err, "stream.Reader", "ReadChunk", "read intensity")
	}
	if _, err := io.ReadFull(r.r, c.Weight); err != nil {
		return nil, errors.WrapInvalid(err, "stream.Reader", "ReadChunk", "read weight")
	}
	return c, nil
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}
