package vdif

import (
	"encoding/binary"
	"fmt"

	"github.com/misanthropealoupe/ch-L1mock/errors"
)

// HeaderSize is the size of a non-legacy VDIF frame header in bytes.
const HeaderSize = 32

// Header is a decoded VDIF frame header. Only the fields the assembler
// needs are retained.
type Header struct {
	Invalid     bool
	Legacy      bool
	Seconds     uint32 // seconds from reference epoch
	RefEpoch    uint8
	FrameNumber uint32 // frame number within the second
	FrameLength int    // total frame length in bytes, header included
	Log2NChan   uint8
	ThreadID    uint16 // polarization index for this stream
	BitsPerSamp uint8
	Complex     bool
}

// NChan returns the channel count encoded in the header.
func (h *Header) NChan() int {
	return 1 << h.Log2NChan
}

// PayloadLength returns the data payload size in bytes.
func (h *Header) PayloadLength() int {
	return h.FrameLength - HeaderSize
}

// DecodeHeader parses the four little-endian header words of a VDIF frame.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.WrapInvalid(
			fmt.Errorf("frame too short: %d bytes", len(b)),
			"vdif", "DecodeHeader", "length check")
	}

	w0 := binary.LittleEndian.Uint32(b[0:4])
	w1 := binary.LittleEndian.Uint32(b[4:8])
	w2 := binary.LittleEndian.Uint32(b[8:12])
	w3 := binary.LittleEndian.Uint32(b[12:16])

	h := Header{
		Invalid:     w0>>31&1 == 1,
		Legacy:      w0>>30&1 == 1,
		Seconds:     w0 & 0x3FFFFFFF,
		FrameNumber: w1 & 0xFFFFFF,
		RefEpoch:    uint8(w1 >> 24 & 0x3F),
		FrameLength: int(w2&0xFFFFFF) * 8,
		Log2NChan:   uint8(w2 >> 24 & 0x1F),
		ThreadID:    uint16(w3 >> 16 & 0x3FF),
		BitsPerSamp: uint8(w3>>26&0x1F) + 1,
		Complex:     w3>>31&1 == 1,
	}

	if h.Legacy {
		return h, errors.WrapInvalid(errors.ErrInvalidFrame, "vdif", "DecodeHeader", "legacy frames unsupported")
	}
	if h.FrameLength < HeaderSize {
		return h, errors.WrapInvalid(errors.ErrInvalidFrame, "vdif", "DecodeHeader", "frame length check")
	}
	return h, nil
}

// EncodeHeader writes h into a 32-byte header. Used by the simulated frame
// writer and tests.
func EncodeHeader(h Header, b []byte) error {
	if len(b) < HeaderSize {
		return errors.WrapInvalid(errors.ErrInvalidFrame, "vdif", "EncodeHeader", "buffer length check")
	}

	var w0 uint32 = h.Seconds & 0x3FFFFFFF
	if h.Invalid {
		w0 |= 1 << 31
	}
	w1 := h.FrameNumber&0xFFFFFF | uint32(h.RefEpoch&0x3F)<<24
	w2 := uint32(h.FrameLength/8)&0xFFFFFF | uint32(h.Log2NChan&0x1F)<<24
	w3 := uint32(h.ThreadID&0x3FF)<<16 | uint32((h.BitsPerSamp-1)&0x1F)<<26
	if h.Complex {
		w3 |= 1 << 31
	}

	binary.LittleEndian.PutUint32(b[0:4], w0)
	binary.LittleEndian.PutUint32(b[4:8], w1)
	binary.LittleEndian.PutUint32(b[8:12], w2)
	binary.LittleEndian.PutUint32(b[12:16], w3)
	for i := 16; i < HeaderSize; i++ {
		b[i] = 0
	}
	return nil
}

// DecodePower converts a 4+4 bit offset-binary complex payload into squared
// magnitudes, one value per channel. len(esq) must equal len(payload).
func DecodePower(payload []byte, esq []float32) {
	for i, b := range payload {
		re := float32(int(b>>4) - 8)
		im := float32(int(b&0x0F) - 8)
		esq[i] = re*re + im*im
	}
}

// EncodeSample packs a complex sample into 4+4 bit offset binary. Components
// are clamped to [-8, 7].
func EncodeSample(re, im int) byte {
	clamp := func(v int) int {
		if v < -8 {
			return -8
		}
		if v > 7 {
			return 7
		}
		return v
	}
	return byte(clamp(re)+8)<<4 | byte(clamp(im)+8)
}
