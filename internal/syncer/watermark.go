package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage"
)

// RuntimeWatermarks is the fast watermark store. Satisfied by the redis
// client.
type RuntimeWatermarks interface {
	GetWatermark(ctx context.Context, chainID uint64) (block uint64, found bool, err error)
	SetWatermark(ctx context.Context, chainID uint64, block uint64) error
}

// WatermarkManager tracks the highest contiguously applied block. Redis
// is authoritative at runtime; the primary store keeps a durable
// checkpoint written every checkpointEvery blocks. A cold start resumes
// from the checkpoint and may replay a few blocks, which idempotence
// keys make harmless.
type WatermarkManager struct {
	redis           RuntimeWatermarks
	store           storage.Store
	chainID         uint64
	checkpointEvery uint64
	log             *slog.Logger
}

func NewWatermarkManager(
	rdb RuntimeWatermarks,
	store storage.Store,
	chainID uint64,
	checkpointEvery uint64,
	log *slog.Logger,
) *WatermarkManager {
	if checkpointEvery == 0 {
		checkpointEvery = 10
	}
	return &WatermarkManager{
		redis:           rdb,
		store:           store,
		chainID:         chainID,
		checkpointEvery: checkpointEvery,
		log:             log.With("component", "watermark"),
	}
}

// Load returns the current watermark. found is false when neither store
// has one, i.e. a fresh chain.
func (m *WatermarkManager) Load(ctx context.Context) (uint64, bool, error) {
	block, found, err := m.redis.GetWatermark(ctx, m.chainID)
	if err != nil {
		return 0, false, fmt.Errorf("load runtime watermark: %w", err)
	}
	if found {
		return block, true, nil
	}

	wm, err := m.store.Watermarks().Get(ctx, m.chainID)
	if err != nil {
		return 0, false, fmt.Errorf("load watermark checkpoint: %w", err)
	}
	if wm == nil {
		return 0, false, nil
	}
	m.log.Info("resuming from durable checkpoint", "block", wm.LastBlock)
	return wm.LastBlock, true, nil
}

// Advance moves the watermark forward. Called only after every event in
// the range up to block has been applied; never moves backwards except
// through Rollback.
func (m *WatermarkManager) Advance(ctx context.Context, block uint64) error {
	current, found, err := m.redis.GetWatermark(ctx, m.chainID)
	if err != nil {
		return err
	}
	if found && block <= current {
		return nil
	}

	if err := m.redis.SetWatermark(ctx, m.chainID, block); err != nil {
		return fmt.Errorf("advance runtime watermark: %w", err)
	}
	if block%m.checkpointEvery == 0 {
		if err := m.checkpoint(ctx, block); err != nil {
			return err
		}
	}
	return nil
}

// Rollback pulls the watermark back to the safe block after a reorg.
// Both stores are written so a crash mid-recovery cannot resurrect the
// orphaned range.
func (m *WatermarkManager) Rollback(ctx context.Context, safeBlock uint64) error {
	if err := m.redis.SetWatermark(ctx, m.chainID, safeBlock); err != nil {
		return fmt.Errorf("rollback runtime watermark: %w", err)
	}
	return m.checkpoint(ctx, safeBlock)
}

func (m *WatermarkManager) checkpoint(ctx context.Context, block uint64) error {
	err := m.store.Watermarks().Save(ctx, &domain.Watermark{
		ChainID:   m.chainID,
		LastBlock: block,
		UpdatedAt: uint64(time.Now().Unix()),
	})
	if err != nil {
		return fmt.Errorf("checkpoint watermark at %d: %w", block, err)
	}
	return nil
}
