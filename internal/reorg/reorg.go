// Package reorg handles chain reorganization detection and recovery.
//
// Detection is RPC-minimal: a freshly fetched block already carries its
// parent hash, so comparing it with the stored previous block costs no
// extra calls. On mismatch the detector walks stored blocks backwards to
// the last common ancestor; the handler then reverts every orphaned
// block's state changes in descending order before the canonical chain
// is re-applied ascending.
package reorg

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/infra/storage"
	"github.com/openfloor/indexer/internal/reconcile"
)

// Reverter undoes one block's applied state. Satisfied by the
// reconciler.
type Reverter interface {
	Revert(ctx context.Context, blockHash common.Hash) ([]reconcile.WorkItem, error)
}

// WatermarkRollback resets the sync watermark to the safe block so the
// next tick refetches the replaced range.
type WatermarkRollback interface {
	Rollback(ctx context.Context, safeBlock uint64) error
}

// Config bounds the ancestor search.
type Config struct {
	// MaxDepth is the deepest reorg handled before giving up (default 100).
	MaxDepth int
}

func NewDetector(config Config, blocks storage.BlockRepository) *Detector {
	return &Detector{config: config, blocks: blocks}
}

func NewHandler(store storage.Store, reverter Reverter, watermark WatermarkRollback) *Handler {
	return &Handler{store: store, reverter: reverter, watermark: watermark}
}
