package reorg

import (
	"context"
	"fmt"
	"time"

	"github.com/openfloor/indexer/internal/infra/storage"
	"github.com/openfloor/indexer/internal/metrics"
	"github.com/openfloor/indexer/internal/reconcile"
)

// Handler executes the rollback half of a reorg: revert state changes
// block by block from the tip down to the safe point, mark the replaced
// blocks orphaned, and pull the watermark back so the canonical chain is
// refetched and re-applied ascending.
type Handler struct {
	store     storage.Store
	reverter  Reverter
	watermark WatermarkRollback
}

// RollbackResult summarizes one rollback for logging and metrics.
type RollbackResult struct {
	OrphanedBlocks int
	SideEffects    []reconcile.WorkItem
	FromBlock      uint64
	SafeBlock      uint64
	Duration       time.Duration
}

// Rollback reverts blocks (safeBlock, fromBlock] in descending order.
// Descending matters: a later block's state may depend on an earlier
// block's, so undo runs newest first.
func (h *Handler) Rollback(ctx context.Context, fromBlock, safeBlock uint64) (*RollbackResult, error) {
	start := time.Now()
	result := &RollbackResult{FromBlock: fromBlock, SafeBlock: safeBlock}

	for num := fromBlock; num > safeBlock; num-- {
		block, err := h.store.Blocks().GetByNumber(ctx, num)
		if err != nil {
			return nil, fmt.Errorf("get block %d: %w", num, err)
		}
		if block == nil {
			continue
		}

		items, err := h.reverter.Revert(ctx, block.Hash)
		if err != nil {
			return nil, fmt.Errorf("revert block %d (%s): %w", num, block.Hash.Hex(), err)
		}
		result.SideEffects = append(result.SideEffects, items...)

		if err := h.store.Blocks().MarkOrphaned(ctx, block.Hash); err != nil {
			return nil, fmt.Errorf("mark block %d orphaned: %w", num, err)
		}
		result.OrphanedBlocks++
	}

	if err := h.watermark.Rollback(ctx, safeBlock); err != nil {
		return nil, fmt.Errorf("rollback watermark to %d: %w", safeBlock, err)
	}

	metrics.ReorgsDetected.Inc()
	result.Duration = time.Since(start)
	return result, nil
}

// CanRecover reports whether the safe block is present locally, i.e. the
// reorg did not reach past our indexed history.
func (h *Handler) CanRecover(ctx context.Context, safeBlock uint64) (bool, error) {
	block, err := h.store.Blocks().GetByNumber(ctx, safeBlock)
	if err != nil {
		return false, err
	}
	return block != nil, nil
}
