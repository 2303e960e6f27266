// Package disk provides a chunk source that replays intensity stream files
// previously written by the save_raw_data action. Files in the configured
// directory are replayed in lexical order; the output channel closes at the
// end of the last file.
package disk

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/source"
	"github.com/misanthropealoupe/ch-L1mock/stream"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// FileExt is the extension of intensity stream files.
const FileExt = ".l1int"

const outDepth = 2

// Source replays saved intensity streams from disk.
type Source struct {
	name string
	dir  string

	out    chan *types.Chunk
	files  []string
	logger *slog.Logger

	lifecycleMu sync.Mutex
	running     bool
	startTime   time.Time
	shutdown    chan struct{}
	done        chan struct{}
}

// New creates a disk source from a factory config document.
func New(rawConfig []byte, deps component.Dependencies) (component.LifecycleComponent, error) {
	var cfg source.FactoryConfig
	if err := yaml.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "DiskSource", "New", "config unmarshal")
	}
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "DiskSource", "New", "path required")
	}

	return &Source{
		name:     "disk-source",
		dir:      cfg.Path,
		logger:   deps.GetLoggerWithComponent("disk-source"),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Meta implements component.Component.
func (s *Source) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "source",
		Description: "intensity stream file replay",
		Version:     "1.0.0",
	}
}

// Health implements component.Component.
func (s *Source) Health() component.HealthStatus {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	h := component.HealthStatus{Healthy: s.running, LastCheck: time.Now()}
	if s.running {
		h.Uptime = time.Since(s.startTime)
	}
	return h
}

// Chunks implements source.Source.
func (s *Source) Chunks() <-chan *types.Chunk {
	return s.out
}

// Initialize scans the acquisition directory.
func (s *Source) Initialize() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(err, "DiskSource", "Initialize", "read acquisition directory")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExt) {
			continue
		}
		s.files = append(s.files, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(s.files)

	if len(s.files) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "DiskSource", "Initialize", "no stream files in directory")
	}

	s.out = make(chan *types.Chunk, outDepth)
	return nil
}

// Start begins replay.
func (s *Source) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "DiskSource", "Start", "check running state")
	}
	s.running = true
	s.startTime = time.Now()

	go s.replay(ctx)

	s.logger.Info("disk source started", "dir", s.dir, "files", len(s.files))
	return nil
}

// Stop halts replay.
func (s *Source) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return nil
	}
	close(s.shutdown)

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "DiskSource", "Stop", "replay shutdown")
	}
	s.running = false
	return nil
}

func (s *Source) replay(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)

	for _, path := range s.files {
		if err := s.replayFile(ctx, path); err != nil {
			if err == context.Canceled || err == errors.ErrShuttingDown {
				return
			}
			s.logger.Error("stream file replay failed", "file", path, "error", err)
			return
		}
	}
	s.logger.Info("disk source drained", "files", len(s.files))
}

func (s *Source) replayFile(ctx context.Context, path string) error {
	r, err := stream.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for {
		c, err := r.ReadChunk()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case s.out <- c:
		case <-ctx.Done():
			return context.Canceled
		case <-s.shutdown:
			return errors.ErrShuttingDown
		}
	}
}
