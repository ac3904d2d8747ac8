package reorg

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage/memory"
)

func canonicalHash(number uint64) common.Hash {
	return common.HexToHash(fmt.Sprintf("0x%064x", 0xc000+number))
}

func forkHash(number uint64) common.Hash {
	return common.HexToHash(fmt.Sprintf("0x%064x", 0xf000+number))
}

// seedChain stores canonical blocks [from, to] with linked parent hashes.
func seedChain(t *testing.T, store *memory.Store, from, to uint64) {
	t.Helper()
	for n := from; n <= to; n++ {
		err := store.Blocks().Save(context.Background(), &domain.Block{
			Number:     n,
			Hash:       canonicalHash(n),
			ParentHash: canonicalHash(n - 1),
			Status:     domain.BlockStatusSeen,
		})
		if err != nil {
			t.Fatalf("seed block %d: %v", n, err)
		}
	}
}

func TestCheckParentHashNoReorg(t *testing.T) {
	store := memory.NewStore()
	seedChain(t, store, 1, 10)
	d := NewDetector(Config{}, store.Blocks())

	info, err := d.CheckParentHash(context.Background(), 11, canonicalHash(10))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if info.Detected {
		t.Error("no reorg expected when parent hashes agree")
	}
}

func TestCheckParentHashUnindexedPrevious(t *testing.T) {
	store := memory.NewStore()
	d := NewDetector(Config{}, store.Blocks())

	info, err := d.CheckParentHash(context.Background(), 11, canonicalHash(10))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if info.Detected {
		t.Error("no reorg expected when the previous block is unindexed")
	}
}

func TestCheckParentHashGenesis(t *testing.T) {
	store := memory.NewStore()
	d := NewDetector(Config{}, store.Blocks())

	info, err := d.CheckParentHash(context.Background(), 0, common.Hash{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if info.Detected {
		t.Error("block zero can never be a reorg")
	}
}

func TestCheckParentHashDetectsSingleBlockReorg(t *testing.T) {
	store := memory.NewStore()
	seedChain(t, store, 1, 9)
	// Block 10 landed on a fork branch: linked to 9, but its hash is not
	// what the new block 11 claims as parent.
	err := store.Blocks().Save(context.Background(), &domain.Block{
		Number:     10,
		Hash:       forkHash(10),
		ParentHash: canonicalHash(9),
		Status:     domain.BlockStatusSeen,
	})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDetector(Config{}, store.Blocks())

	info, err := d.CheckParentHash(context.Background(), 11, canonicalHash(10))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !info.Detected {
		t.Fatal("reorg should be detected")
	}
	if info.SafeBlock != 9 {
		t.Errorf("safe block = %d, want 9", info.SafeBlock)
	}
	if info.SafeHash != canonicalHash(9) {
		t.Errorf("safe hash = %s, want block 9's hash", info.SafeHash.Hex())
	}
	if info.FromBlock != 10 {
		t.Errorf("from block = %d, want 10", info.FromBlock)
	}
	if info.Depth != 1 {
		t.Errorf("depth = %d, want 1", info.Depth)
	}
}

func TestCheckParentHashWalksBrokenLinks(t *testing.T) {
	store := memory.NewStore()
	seedChain(t, store, 1, 9)
	// Block 10 is a fork block whose stored parent link does not match
	// the stored block 9, so the walk continues past it.
	err := store.Blocks().Save(context.Background(), &domain.Block{
		Number:     10,
		Hash:       forkHash(10),
		ParentHash: forkHash(9),
		Status:     domain.BlockStatusSeen,
	})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDetector(Config{MaxDepth: 50}, store.Blocks())

	info, err := d.CheckParentHash(context.Background(), 11, canonicalHash(10))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !info.Detected {
		t.Fatal("reorg should be detected")
	}
	if info.SafeBlock != 8 {
		t.Errorf("safe block = %d, want 8", info.SafeBlock)
	}
	if info.Depth != 2 {
		t.Errorf("depth = %d, want 2", info.Depth)
	}
}

func TestCheckParentHashDepthLimit(t *testing.T) {
	store := memory.NewStore()
	// Every stored block disagrees with its parent, so the walk never
	// finds a consistent link.
	for n := uint64(1); n <= 10; n++ {
		err := store.Blocks().Save(context.Background(), &domain.Block{
			Number:     n,
			Hash:       forkHash(n),
			ParentHash: canonicalHash(n - 1),
			Status:     domain.BlockStatusSeen,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	d := NewDetector(Config{MaxDepth: 3}, store.Blocks())

	if _, err := d.CheckParentHash(context.Background(), 11, canonicalHash(10)); err == nil {
		t.Fatal("expected error once the walk exceeds max depth")
	}
}
