package reorg

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage/memory"
	"github.com/openfloor/indexer/internal/reconcile"
)

type mockReverter struct {
	reverted []common.Hash
	items    []reconcile.WorkItem
}

func (m *mockReverter) Revert(ctx context.Context, blockHash common.Hash) ([]reconcile.WorkItem, error) {
	m.reverted = append(m.reverted, blockHash)
	return m.items, nil
}

type mockWatermarkRollback struct {
	rollbackCalled bool
	safeBlock      uint64
}

func (m *mockWatermarkRollback) Rollback(ctx context.Context, safeBlock uint64) error {
	m.rollbackCalled = true
	m.safeBlock = safeBlock
	return nil
}

func TestRollbackRevertsDescending(t *testing.T) {
	store := memory.NewStore()
	seedChain(t, store, 9, 12)
	reverter := &mockReverter{items: []reconcile.WorkItem{{Kind: reconcile.WorkOrderChanged, Key: "o"}}}
	watermark := &mockWatermarkRollback{}
	h := NewHandler(store, reverter, watermark)

	result, err := h.Rollback(context.Background(), 12, 10)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if len(reverter.reverted) != 2 {
		t.Fatalf("reverted blocks = %d, want 2", len(reverter.reverted))
	}
	if reverter.reverted[0] != canonicalHash(12) || reverter.reverted[1] != canonicalHash(11) {
		t.Errorf("revert order = %v, want 12 then 11", reverter.reverted)
	}
	if result.OrphanedBlocks != 2 {
		t.Errorf("orphaned = %d, want 2", result.OrphanedBlocks)
	}
	if len(result.SideEffects) != 2 {
		t.Errorf("side effects = %d, want 2", len(result.SideEffects))
	}
	if !watermark.rollbackCalled || watermark.safeBlock != 10 {
		t.Errorf("watermark rollback = %v at %d, want block 10", watermark.rollbackCalled, watermark.safeBlock)
	}

	for n := uint64(11); n <= 12; n++ {
		block, _ := store.Blocks().GetByNumber(context.Background(), n)
		if block != nil && block.Status != domain.BlockStatusOrphaned {
			t.Errorf("block %d status = %s, want orphaned", n, block.Status)
		}
	}
	safe, _ := store.Blocks().GetByNumber(context.Background(), 10)
	if safe == nil || safe.Status == domain.BlockStatusOrphaned {
		t.Error("safe block must stay canonical")
	}
}

func TestRollbackSkipsMissingBlocks(t *testing.T) {
	store := memory.NewStore()
	seedChain(t, store, 12, 12) // 11 was never stored
	reverter := &mockReverter{}
	watermark := &mockWatermarkRollback{}
	h := NewHandler(store, reverter, watermark)

	result, err := h.Rollback(context.Background(), 12, 10)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if result.OrphanedBlocks != 1 {
		t.Errorf("orphaned = %d, want 1", result.OrphanedBlocks)
	}
	if !watermark.rollbackCalled {
		t.Error("watermark rollback must still run")
	}
}

func TestCanRecover(t *testing.T) {
	store := memory.NewStore()
	seedChain(t, store, 10, 10)
	h := NewHandler(store, &mockReverter{}, &mockWatermarkRollback{})

	ok, err := h.CanRecover(context.Background(), 10)
	if err != nil || !ok {
		t.Errorf("can recover block 10 = %v (%v), want true", ok, err)
	}
	ok, err = h.CanRecover(context.Background(), 5)
	if err != nil || ok {
		t.Errorf("can recover block 5 = %v (%v), want false", ok, err)
	}
}
