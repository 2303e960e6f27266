// Package config loads and validates the pipeline configuration document.
//
// The configuration is a nested YAML mapping with five sections (source,
// preprocess, dedisperse, postprocess, actions) plus the global ntime_chunk.
// Optional sections take documented defaults; required parameters fail
// loading with classified invalid-config errors naming the offending key.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
)

// Source type constants
const (
	SourceVDIF = "vdif"
	SourceDisk = "disk"
	SourceSim  = "sim"
)

// VDIF source variants
const (
	VDIFNetwork  = "network"
	VDIFMooseAcq = "moose_acq"
)

// Detrend modes
const (
	DetrendSubtractMean = "subtract_mean"
	DetrendNone         = "none"
)

// Action type constants
const (
	ActionSaveWaterfallPlot = "save_waterfall_plot"
	ActionSaveRawData       = "save_raw_data"
	ActionSendHeader        = "send_header"
	ActionPrintToStdout     = "print_to_stdout"
	ActionPublishHeaderNATS = "publish_header_nats"
	ActionWebsocketMonitor  = "websocket_monitor"
)

// Defaults applied by Load for omitted optional keys
const (
	DefaultNFrameIntegrate = 512
	DefaultNChanUpsamp     = 1
	DefaultTreeSize        = 256
	DefaultNUps            = 1
	DefaultNSM             = 1
	DefaultSMDepth         = 0
	DefaultThreshold       = 10.0
)

// Config represents the complete pipeline configuration
type Config struct {
	NTimeChunk  int               `yaml:"ntime_chunk"`
	Source      SourceConfig      `yaml:"source"`
	Preprocess  PreprocessConfig  `yaml:"preprocess"`
	Dedisperse  DedisperseConfig  `yaml:"dedisperse"`
	Postprocess PostprocessConfig `yaml:"postprocess"`
	Actions     []ActionConfig    `yaml:"actions,omitempty"`
}

// SourceConfig selects and parameterizes the chunk source
type SourceConfig struct {
	Type            string            `yaml:"type"` // vdif, disk, sim
	VDIFSource      *VDIFSourceConfig `yaml:"vdif_source,omitempty"`
	NFrameIntegrate int               `yaml:"nframe_integrate,omitempty"`
	NChanUpsamp     int               `yaml:"nchan_upsamp,omitempty"`

	// Disk source: directory of intensity stream files written by the
	// save_raw_data action.
	Path string `yaml:"path,omitempty"`

	// Sim source: pace chunk production to real time instead of producing
	// as fast as downstream consumes.
	Realtime bool `yaml:"realtime,omitempty"`
}

// VDIFSourceConfig parameterizes VDIF frame ingestion
type VDIFSourceConfig struct {
	Type string `yaml:"type"` // network, moose_acq

	// Network ingestion
	ListenAddr string `yaml:"listen_addr,omitempty"` // e.g. ":7590"
	RingFrames int    `yaml:"ring_frames,omitempty"` // ingest ring capacity

	// Saved acquisition replay
	AcqDir string `yaml:"acq_dir,omitempty"`
}

// PreprocessConfig controls detrending and synthetic event injection
type PreprocessConfig struct {
	Detrend string        `yaml:"detrend,omitempty"`
	Inject  *InjectConfig `yaml:"inject,omitempty"` // presence enables injection
}

// InjectConfig describes synthetic dispersed-pulse injection. Rate is mean
// events per second of data time.
type InjectConfig struct {
	Rate     float64 `yaml:"rate"`
	DM       float64 `yaml:"dm,omitempty"`        // pc cm^-3
	Fluence  float64 `yaml:"fluence,omitempty"`   // amplitude in intensity units
	WidthSec float64 `yaml:"width_sec,omitempty"` // intrinsic pulse width
}

// TreeSpec is one dedispersion configuration among the ordered trees list
type TreeSpec struct {
	NDS    int `yaml:"nds"`     // downsampling factor
	NTTree int `yaml:"nt_tree"` // dispersion delay span in downsampled samples
}

// DedisperseConfig parameterizes the dedispersion search
type DedisperseConfig struct {
	Trees    []TreeSpec `yaml:"trees"`
	TreeSize int        `yaml:"tree_size,omitempty"`
	NUps     int        `yaml:"nups,omitempty"`
	NSM      int        `yaml:"nsm,omitempty"`
	SMDepth  int        `yaml:"sm_depth,omitempty"`
}

// PostprocessConfig parameterizes the sifter
type PostprocessConfig struct {
	Threshold float64 `yaml:"threshold,omitempty"`
}

// ActionConfig is one tagged actions entry. Type selects the registered
// action factory; Raw carries the full mapping re-marshaled as YAML so each
// factory can unmarshal its own typed config.
type ActionConfig struct {
	Type string
	Raw  []byte
}

// UnmarshalYAML captures the type tag and preserves the full mapping.
func (a *ActionConfig) UnmarshalYAML(value *yaml.Node) error {
	var probe struct {
		Type string `yaml:"type"`
	}
	if err := value.Decode(&probe); err != nil {
		return err
	}
	raw, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	a.Type = probe.Type
	a.Raw = raw
	return nil
}

// MarshalYAML re-emits the preserved mapping so a loaded config serializes
// back to an equivalent document.
func (a ActionConfig) MarshalYAML() (any, error) {
	var m map[string]any
	if err := yaml.Unmarshal(a.Raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{"type": a.Type}
	}
	return m, nil
}

// Decode unmarshals the preserved mapping into an action-specific config
// struct. Called by action factories.
func (a *ActionConfig) Decode(out any) error {
	if err := yaml.Unmarshal(a.Raw, out); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("action '%s' config: %w", a.Type, err),
			"ActionConfig", "Decode", "unmarshal action config")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf(format, args...), "Config", "Validate", "config validation")
}

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	if c.NTimeChunk <= 0 {
		return invalid("ntime_chunk must be a positive integer, got %d", c.NTimeChunk)
	}

	if err := c.validateSource(); err != nil {
		return err
	}

	switch c.Preprocess.Detrend {
	case DetrendSubtractMean, DetrendNone:
	default:
		return invalid("preprocess.detrend '%s' is not recognized", c.Preprocess.Detrend)
	}
	if inj := c.Preprocess.Inject; inj != nil {
		if inj.Rate <= 0 {
			return invalid("preprocess.inject.rate must be > 0, got %g", inj.Rate)
		}
	}

	if err := c.validateDedisperse(); err != nil {
		return err
	}

	if c.Postprocess.Threshold <= 0 {
		return invalid("postprocess.threshold must be > 0, got %g", c.Postprocess.Threshold)
	}

	return c.validateActions()
}

func (c *Config) validateSource() error {
	switch c.Source.Type {
	case SourceVDIF:
		vs := c.Source.VDIFSource
		if vs == nil {
			return invalid("source.vdif_source is required when source.type is 'vdif'")
		}
		switch vs.Type {
		case VDIFNetwork:
			if vs.ListenAddr == "" {
				return invalid("source.vdif_source.listen_addr is required for network ingestion")
			}
		case VDIFMooseAcq:
			if vs.AcqDir == "" {
				return invalid("source.vdif_source.acq_dir is required for saved acquisitions")
			}
		default:
			return invalid("source.vdif_source.type '%s' is not recognized", vs.Type)
		}
	case SourceDisk:
		if c.Source.Path == "" {
			return invalid("source.path is required when source.type is 'disk'")
		}
	case SourceSim:
	default:
		return invalid("source.type '%s' is not recognized", c.Source.Type)
	}

	if c.Source.NFrameIntegrate <= 0 {
		return invalid("source.nframe_integrate must be positive, got %d", c.Source.NFrameIntegrate)
	}
	if c.Source.NChanUpsamp <= 0 {
		return invalid("source.nchan_upsamp must be positive, got %d", c.Source.NChanUpsamp)
	}
	return nil
}

func (c *Config) validateDedisperse() error {
	d := &c.Dedisperse
	if len(d.Trees) == 0 {
		return invalid("dedisperse.trees must be a non-empty list")
	}
	for i, tree := range d.Trees {
		if tree.NDS <= 0 {
			return invalid("dedisperse.trees[%d].nds must be positive, got %d", i, tree.NDS)
		}
		if tree.NTTree <= 0 {
			return invalid("dedisperse.trees[%d].nt_tree must be positive, got %d", i, tree.NTTree)
		}
	}
	if d.TreeSize <= 0 {
		return invalid("dedisperse.tree_size must be positive, got %d", d.TreeSize)
	}
	if d.NUps <= 0 {
		return invalid("dedisperse.nups must be positive, got %d", d.NUps)
	}
	if d.NSM <= 0 {
		return invalid("dedisperse.nsm must be positive, got %d", d.NSM)
	}
	if d.SMDepth < 0 {
		return invalid("dedisperse.sm_depth must be >= 0, got %d", d.SMDepth)
	}
	return nil
}

func (c *Config) validateActions() error {
	for i, action := range c.Actions {
		switch action.Type {
		case ActionPrintToStdout, ActionSaveRawData, ActionSaveWaterfallPlot,
			ActionPublishHeaderNATS, ActionWebsocketMonitor:
		case ActionSendHeader:
			var hc struct {
				Port int `yaml:"port"`
			}
			if err := yaml.Unmarshal(action.Raw, &hc); err != nil {
				return invalid("actions[%d]: %v", i, err)
			}
			if err := component.ValidatePortNumber(hc.Port); err != nil {
				return invalid("actions[%d] (send_header): port is required and must be 1-65535, got %d", i, hc.Port)
			}
		case "":
			return invalid("actions[%d] is missing the required 'type' tag", i)
		default:
			return invalid("actions[%d].type '%s' is not recognized", i, action.Type)
		}
	}
	return nil
}

// presentKeys records which defaultable keys the document actually carried,
// so an explicit zero reaches Validate instead of silently taking the
// default.
type presentKeys struct {
	Source struct {
		NFrameIntegrate *int `yaml:"nframe_integrate"`
		NChanUpsamp     *int `yaml:"nchan_upsamp"`
	} `yaml:"source"`
	Preprocess struct {
		Detrend *string `yaml:"detrend"`
	} `yaml:"preprocess"`
	Dedisperse struct {
		TreeSize *int `yaml:"tree_size"`
		NUps     *int `yaml:"nups"`
		NSM      *int `yaml:"nsm"`
	} `yaml:"dedisperse"`
	Postprocess struct {
		Threshold *float64 `yaml:"threshold"`
	} `yaml:"postprocess"`
}

// applyDefaults fills omitted optional keys with their documented defaults.
// Keys present in the document keep their value, zero included.
func (c *Config) applyDefaults(p presentKeys) {
	if p.Source.NFrameIntegrate == nil {
		c.Source.NFrameIntegrate = DefaultNFrameIntegrate
	}
	if p.Source.NChanUpsamp == nil {
		c.Source.NChanUpsamp = DefaultNChanUpsamp
	}
	if p.Preprocess.Detrend == nil {
		c.Preprocess.Detrend = DetrendSubtractMean
	}
	if p.Dedisperse.TreeSize == nil {
		c.Dedisperse.TreeSize = DefaultTreeSize
	}
	if p.Dedisperse.NUps == nil {
		c.Dedisperse.NUps = DefaultNUps
	}
	if p.Dedisperse.NSM == nil {
		c.Dedisperse.NSM = DefaultNSM
	}
	if p.Postprocess.Threshold == nil {
		c.Postprocess.Threshold = DefaultThreshold
	}
}

// InjectionEnabled reports whether synthetic event injection is configured.
func (c *Config) InjectionEnabled() bool {
	return c.Preprocess.Inject != nil
}
