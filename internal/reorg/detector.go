package reorg

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/infra/storage"
)

// Detector finds reorganizations through parent hash verification.
type Detector struct {
	config Config
	blocks storage.BlockRepository
}

// Info describes a detected reorganization.
type Info struct {
	Detected  bool
	Depth     int
	FromBlock uint64 // first orphaned block
	SafeBlock uint64 // last block shared with the canonical chain
	SafeHash  common.Hash
}

// CheckParentHash compares a new block's parent hash against the stored
// previous block. Uses only already-fetched data.
func (d *Detector) CheckParentHash(
	ctx context.Context,
	newBlockNum uint64,
	parentHash common.Hash,
) (*Info, error) {
	if newBlockNum == 0 {
		return &Info{}, nil
	}

	stored, err := d.blocks.GetByNumber(ctx, newBlockNum-1)
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", newBlockNum-1, err)
	}

	// Not indexed yet, or still in agreement.
	if stored == nil || stored.Hash == parentHash {
		return &Info{}, nil
	}

	safeBlock, safeHash, depth, err := d.findSafePoint(ctx, newBlockNum-1)
	if err != nil {
		return nil, fmt.Errorf("find safe point: %w", err)
	}

	return &Info{
		Detected:  true,
		Depth:     depth,
		FromBlock: safeBlock + 1,
		SafeBlock: safeBlock,
		SafeHash:  safeHash,
	}, nil
}

// findSafePoint walks stored blocks backwards until the parent link is
// consistent again. No RPC calls; only local data.
func (d *Detector) findSafePoint(ctx context.Context, fromBlock uint64) (uint64, common.Hash, int, error) {
	maxDepth := d.config.MaxDepth
	if maxDepth == 0 {
		maxDepth = 100
	}

	current := fromBlock
	depth := 1
	for current > 0 {
		block, err := d.blocks.GetByNumber(ctx, current)
		if err != nil {
			return 0, common.Hash{}, 0, fmt.Errorf("get block %d: %w", current, err)
		}
		if block == nil {
			// Start of our indexed history.
			return current, common.Hash{}, depth, nil
		}

		parent, err := d.blocks.GetByNumber(ctx, current-1)
		if err != nil {
			return 0, common.Hash{}, 0, fmt.Errorf("get block %d: %w", current-1, err)
		}
		if parent == nil {
			return current - 1, common.Hash{}, depth, nil
		}

		if block.ParentHash == parent.Hash {
			return parent.Number, parent.Hash, depth, nil
		}

		current--
		depth++
		if depth > maxDepth {
			return 0, common.Hash{}, 0, fmt.Errorf("reorg depth exceeds %d blocks", maxDepth)
		}
	}

	return 0, common.Hash{}, depth, nil
}
