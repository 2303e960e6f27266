// Package source defines the contract for chunk sources. Concrete sources
// (network VDIF, saved acquisitions, disk streams, simulation) live in
// subpackages and are created through the component registry.
package source

import (
	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Source produces an unbounded, ordered sequence of intensity chunks. The
// chunk channel closes when the source runs dry (end of acquisition, end of
// disk stream) or after Stop; network sources never run dry on their own.
type Source interface {
	component.LifecycleComponent

	// Chunks returns the output channel. Valid after Initialize.
	Chunks() <-chan *types.Chunk
}

// FactoryConfig is the YAML document handed to every source factory: the
// source section plus the global parameters a source needs.
type FactoryConfig struct {
	NTimeChunk      int    `yaml:"ntime_chunk"`
	NFrameIntegrate int    `yaml:"nframe_integrate"`
	NChanUpsamp     int    `yaml:"nchan_upsamp"`
	NChan           int    `yaml:"nchan,omitempty"` // 0 means the FPGA channel count
	Path            string `yaml:"path,omitempty"`
	Realtime        bool   `yaml:"realtime,omitempty"`

	VDIFType   string `yaml:"vdif_type,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
	RingFrames int    `yaml:"ring_frames,omitempty"`
	AcqDir     string `yaml:"acq_dir,omitempty"`
}
