// Package vdif ingests VDIF frame streams, either from a UDP socket or from
// saved acquisition files, and integrates them into intensity chunks on the
// FPGA band. Network reception is decoupled from integration by a
// drop-oldest ring buffer so the socket reader never blocks on downstream
// load.
package vdif

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/l0"
	"github.com/misanthropealoupe/ch-L1mock/metric"
	"github.com/misanthropealoupe/ch-L1mock/pkg/retry"
	"github.com/misanthropealoupe/ch-L1mock/pkg/ringbuf"
	"github.com/misanthropealoupe/ch-L1mock/source"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// AcqFileExt is the extension of saved acquisition files.
const AcqFileExt = ".vdif"

const (
	defaultRingFrames = 16384
	maxDatagram       = 9000
	outDepth          = 2
	readBatch         = 256
)

// Source ingests VDIF frames and produces intensity chunks.
type Source struct {
	name    string
	mode    string // network or moose_acq
	addr    string
	acqDir  string
	nchan   int
	ringCap int

	assembler *Assembler
	ring      *ringbuf.Ring[[]byte]
	conn      *net.UDPConn
	out       chan *types.Chunk
	logger    *slog.Logger
	metrics   *metric.Registry

	lifecycleMu sync.Mutex
	running     bool
	startTime   time.Time
	shutdown    chan struct{}
	done        chan struct{}
}

// New creates a VDIF source from a factory config document.
func New(rawConfig []byte, deps component.Dependencies) (component.LifecycleComponent, error) {
	var cfg source.FactoryConfig
	if err := yaml.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "VDIFSource", "New", "config unmarshal")
	}
	if cfg.NTimeChunk <= 0 || cfg.NFrameIntegrate <= 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "VDIFSource", "New", "ntime_chunk and nframe_integrate required")
	}

	nchan := cfg.NChan
	if nchan <= 0 {
		nchan = l0.FPGANFreq
	}
	ringCap := cfg.RingFrames
	if ringCap <= 0 {
		ringCap = defaultRingFrames
	}

	s := &Source{
		name:     "vdif-source",
		mode:     cfg.VDIFType,
		addr:     cfg.ListenAddr,
		acqDir:   cfg.AcqDir,
		nchan:    nchan,
		ringCap:  ringCap,
		logger:   deps.GetLoggerWithComponent("vdif-source"),
		metrics:  deps.Metrics,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	switch s.mode {
	case "network":
		if s.addr == "" {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "VDIFSource", "New", "listen_addr required")
		}
	case "moose_acq":
		if s.acqDir == "" {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "VDIFSource", "New", "acq_dir required")
		}
	default:
		return nil, errors.WrapInvalid(errors.ErrUnknownVariant, "VDIFSource", "New", "vdif_source.type check")
	}

	asm, err := NewAssembler(nchan, cfg.NFrameIntegrate, cfg.NTimeChunk, s.logger)
	if err != nil {
		return nil, err
	}
	s.assembler = asm
	return s, nil
}

// Meta implements component.Component.
func (s *Source) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "source",
		Description: "VDIF frame ingestion and square accumulation",
		Version:     "1.0.0",
	}
}

// Health implements component.Component.
func (s *Source) Health() component.HealthStatus {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	h := component.HealthStatus{
		Healthy:    s.running,
		LastCheck:  time.Now(),
		ErrorCount: int(s.assembler.InvalidCount),
	}
	if s.running {
		h.Uptime = time.Since(s.startTime)
	}
	if s.ring != nil {
		if dropped := s.ring.Stats().Dropped; dropped > 0 {
			h.LastError = fmt.Sprintf("ingest ring dropped %d frames", dropped)
		}
	}
	return h
}

// Chunks implements source.Source.
func (s *Source) Chunks() <-chan *types.Chunk {
	return s.out
}

// Initialize allocates the ingest ring and output channel. With a metrics
// registry present, the ring reports its drop count and occupancy.
func (s *Source) Initialize() error {
	opts := []ringbuf.Option[[]byte]{ringbuf.WithOverflowPolicy[[]byte](ringbuf.DropOldest)}

	if s.metrics != nil {
		dropped, err := s.metrics.RegisterCounter("vdif_source", "frames_dropped_total",
			"Frames dropped at the ingest ring under load")
		if err != nil {
			return errors.Wrap(err, "VDIFSource", "Initialize", "register drop counter")
		}
		occupied, err := s.metrics.RegisterGauge("vdif_source", "ring_occupancy",
			"Frames currently buffered in the ingest ring")
		if err != nil {
			return errors.Wrap(err, "VDIFSource", "Initialize", "register occupancy gauge")
		}
		opts = append(opts, ringbuf.WithMetrics[[]byte](dropped, occupied))
	}

	ring, err := ringbuf.New[[]byte](s.ringCap, opts...)
	if err != nil {
		return errors.Wrap(err, "VDIFSource", "Initialize", "ring allocation")
	}
	s.ring = ring
	s.out = make(chan *types.Chunk, outDepth)
	return nil
}

// Start opens the socket (network mode) and launches the ingest goroutines.
func (s *Source) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "VDIFSource", "Start", "check running state")
	}

	switch s.mode {
	case "network":
		udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
		if err != nil {
			return errors.WrapInvalid(err, "VDIFSource", "Start", "resolve listen address")
		}
		// The port may linger in TIME_WAIT after a restart; keep trying
		// until it binds or the context is cancelled.
		conn, err := retry.DoWithResult(ctx, retry.Persistent(), func() (*net.UDPConn, error) {
			return net.ListenUDP("udp", udpAddr)
		})
		if err != nil {
			return errors.WrapTransient(err, "VDIFSource", "Start", "open UDP socket")
		}
		s.conn = conn
		go s.receiveLoop()
		go s.assembleLoop(ctx)
		s.logger.Info("vdif source listening", "addr", s.addr, "ring_frames", s.ringCap)

	case "moose_acq":
		go s.replayLoop(ctx)
		s.logger.Info("vdif source replaying acquisition", "dir", s.acqDir)
	}

	s.running = true
	s.startTime = time.Now()
	return nil
}

// Stop closes the socket and waits for the workers to drain.
func (s *Source) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return nil
	}
	close(s.shutdown)
	if s.conn != nil {
		_ = s.conn.Close()
	}

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "VDIFSource", "Stop", "worker shutdown")
	}
	s.running = false
	return nil
}

// receiveLoop reads datagrams into the ring. It never blocks on downstream
// load; the ring drops oldest frames under pressure.
func (s *Source) receiveLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				s.logger.Error("udp receive failed", "error", err)
			}
			return
		}
		if n < HeaderSize {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		s.ring.Write(frame)
	}
}

// assembleLoop drains the ring and pushes completed chunks downstream.
func (s *Source) assembleLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		frames := s.ring.ReadBatch(readBatch)
		if len(frames) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		for _, frame := range frames {
			chunks, err := s.assembler.Ingest(frame)
			if err != nil {
				s.logger.Debug("dropping invalid frame", "error", err)
				continue
			}
			if !s.emit(ctx, chunks) {
				return
			}
		}
	}
}

// replayLoop feeds saved acquisition files through the assembler.
func (s *Source) replayLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)

	files, err := s.acqFiles()
	if err != nil {
		s.logger.Error("acquisition scan failed", "error", err)
		return
	}

	for _, path := range files {
		if !s.replayFile(ctx, path) {
			return
		}
	}

	tail, err := s.assembler.Flush()
	if err != nil {
		s.logger.Error("flush failed", "error", err)
		return
	}
	if tail != nil {
		s.emit(ctx, []*types.Chunk{tail})
	}
	s.logger.Info("acquisition drained",
		"files", len(files),
		"late_frames", s.assembler.LateFrames,
		"invalid_frames", s.assembler.InvalidCount)
}

func (s *Source) acqFiles() ([]string, error) {
	entries, err := os.ReadDir(s.acqDir)
	if err != nil {
		return nil, errors.Wrap(err, "VDIFSource", "acqFiles", "read acquisition directory")
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), AcqFileExt) {
			continue
		}
		files = append(files, filepath.Join(s.acqDir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "VDIFSource", "acqFiles", "no acquisition files")
	}
	return files, nil
}

// replayFile streams the frames of one acquisition file. Returns false when
// shutdown interrupted the replay.
func (s *Source) replayFile(ctx context.Context, path string) bool {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("acquisition open failed", "file", path, "error", err)
		return true
	}
	defer func() { _ = f.Close() }()

	hdr := make([]byte, HeaderSize)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.shutdown:
			return false
		default:
		}

		if _, err := io.ReadFull(f, hdr); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				s.logger.Error("acquisition read failed", "file", path, "error", err)
			}
			return true
		}
		h, err := DecodeHeader(hdr)
		if err != nil {
			s.logger.Error("corrupt frame header", "file", path, "error", err)
			return true
		}

		frame := make([]byte, h.FrameLength)
		copy(frame, hdr)
		if _, err := io.ReadFull(f, frame[HeaderSize:]); err != nil {
			s.logger.Error("truncated frame", "file", path, "error", err)
			return true
		}

		chunks, err := s.assembler.Ingest(frame)
		if err != nil {
			s.logger.Debug("dropping invalid frame", "error", err)
			continue
		}
		if !s.emit(ctx, chunks) {
			return false
		}
	}
}

// emit pushes chunks downstream, honoring shutdown. Returns false when the
// source should stop.
func (s *Source) emit(ctx context.Context, chunks []*types.Chunk) bool {
	for _, c := range chunks {
		select {
		case s.out <- c:
		case <-ctx.Done():
			return false
		case <-s.shutdown:
			return false
		}
	}
	return true
}
