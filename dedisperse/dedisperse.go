// Package dedisperse implements a brute-force incoherent dedispersion
// search. Each configured tree trades time resolution for search depth via
// its downsampling factor; trees run concurrently and funnel candidates
// into a single stream.
package dedisperse

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/config"
	"github.com/misanthropealoupe/ch-L1mock/errors"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// treeQueueDepth bounds each tree's private chunk queue. A slow tree
// backpressures the distributor, which backpressures the preprocessor.
const treeQueueDepth = 4

// Dedisperser fans preprocessed chunks out to every tree and merges their
// candidate streams.
type Dedisperser struct {
	trees  []*Tree
	logger *slog.Logger
}

// New builds one tree per entry of dedisperse.trees.
func New(cfg config.DedisperseConfig, deps component.Dependencies) (*Dedisperser, error) {
	if len(cfg.Trees) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Dedisperser", "New", "empty trees list")
	}

	trees := make([]*Tree, len(cfg.Trees))
	for i, spec := range cfg.Trees {
		tree, err := NewTree(i, spec, cfg, deps)
		if err != nil {
			return nil, err
		}
		trees[i] = tree
	}

	return &Dedisperser{
		trees:  trees,
		logger: deps.GetLoggerWithComponent("dedisperse"),
	}, nil
}

// Trees returns the number of configured trees.
func (d *Dedisperser) Trees() int {
	return len(d.trees)
}

// Run consumes chunks from in until it closes or ctx is cancelled, running
// one goroutine per tree. Candidates are written to out; out is not closed
// (the caller owns it). A tree error cancels the whole group.
func (d *Dedisperser) Run(ctx context.Context, in <-chan *types.Chunk, out chan<- types.Candidate) error {
	g, ctx := errgroup.WithContext(ctx)

	queues := make([]chan *types.Chunk, len(d.trees))
	for i := range queues {
		queues[i] = make(chan *types.Chunk, treeQueueDepth)
	}

	// Distributor. Chunks are shared read-only across trees.
	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case chunk, ok := <-in:
				if !ok {
					return nil
				}
				for _, q := range queues {
					select {
					case q <- chunk:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	})

	for i, tree := range d.trees {
		queue := queues[i]
		tree := tree
		g.Go(func() error {
			for chunk := range queue {
				cands, err := tree.Process(chunk)
				if err != nil {
					return errors.Wrap(err, "Dedisperser", "Run", "tree processing")
				}
				for _, c := range cands {
					select {
					case out <- c:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			return nil
		})
	}

	return g.Wait()
}
