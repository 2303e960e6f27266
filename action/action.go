// Package action defines the trigger action contract and the dispatcher
// that fans surviving triggers out to every configured action.
package action

import (
	"context"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// Action handles one trigger. Implementations live in subpackages and are
// created through the component registry from their actions entry.
type Action interface {
	component.LifecycleComponent

	// HandleTrigger executes the action for one trigger. Errors are
	// classified: transient errors are retried by the action itself,
	// invalid ones are counted and skipped by the dispatcher.
	HandleTrigger(ctx context.Context, trigger types.Trigger) error
}

// ChunkObserver is implemented by actions that need the data around a
// trigger (raw data capture, waterfall rendering). The dispatcher feeds
// every preprocessed chunk to each observer before any trigger for that
// data can arrive.
type ChunkObserver interface {
	ObserveChunk(c *types.Chunk)
}
