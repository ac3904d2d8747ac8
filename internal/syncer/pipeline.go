// Package syncer orchestrates the sync pipeline: fetch, decode,
// aggregate, reconcile, advance watermark. The scheduler drives it
// through the work queue on a fixed tick.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openfloor/indexer/internal/aggregate"
	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/decode"
	"github.com/openfloor/indexer/internal/fetch"
	"github.com/openfloor/indexer/internal/infra/storage"
	"github.com/openfloor/indexer/internal/metrics"
	"github.com/openfloor/indexer/internal/reconcile"
	"github.com/openfloor/indexer/internal/reorg"
)

// ErrReorged signals that the range was not applied because a reorg was
// detected and rolled back; the watermark now points at the safe block
// and the next tick refetches the canonical chain.
var ErrReorged = errors.New("chain reorganization handled, range not applied")

// Pipeline runs one block range end to end.
type Pipeline struct {
	fetcher      *fetch.Fetcher
	registry     *decode.Registry
	aggregator   *aggregate.Aggregator
	reconciler   *reconcile.Reconciler
	detector     *reorg.Detector
	reorgHandler *reorg.Handler
	store        storage.Store
	log          *slog.Logger
}

func NewPipeline(
	fetcher *fetch.Fetcher,
	registry *decode.Registry,
	aggregator *aggregate.Aggregator,
	reconciler *reconcile.Reconciler,
	detector *reorg.Detector,
	reorgHandler *reorg.Handler,
	store storage.Store,
	log *slog.Logger,
) *Pipeline {
	return &Pipeline{
		fetcher:      fetcher,
		registry:     registry,
		aggregator:   aggregator,
		reconciler:   reconciler,
		detector:     detector,
		reorgHandler: reorgHandler,
		store:        store,
		log:          log.With("component", "pipeline"),
	}
}

// SyncRange fetches and applies [from, to]. Ranges wider than the fetch
// batch limit (backfill and resync jobs) are applied in fetch-sized
// chunks, oldest first; a failure partway leaves the applied chunks in
// place, which idempotence keys make safe when the job retries. The
// realtime path checks for reorgs against the stored chain; backfill
// ranges predate the reorg window and skip the check.
func (p *Pipeline) SyncRange(ctx context.Context, from, to uint64, backfill bool) error {
	if to < from {
		return fmt.Errorf("invalid range %d-%d", from, to)
	}
	step := p.fetcher.BlocksPerBatch()
	for start := from; start <= to; start += step {
		end := start + step - 1
		if end > to {
			end = to
		}
		if err := p.syncChunk(ctx, start, end, backfill); err != nil {
			return err
		}
	}
	return nil
}

// syncChunk fetches and applies one fetch-sized range. Decode failures
// on individual logs are skipped for this pass and the range is
// recorded for retry, never silently dropped.
func (p *Pipeline) syncChunk(ctx context.Context, from, to uint64, backfill bool) error {
	data, err := p.fetcher.FetchRange(ctx, from, to)
	if err != nil {
		return err
	}
	if len(data.Blocks) == 0 {
		return fetch.ErrNotReady
	}

	if !backfill {
		info, err := p.detector.CheckParentHash(ctx, data.Blocks[0].Number, data.Blocks[0].ParentHash)
		if err != nil {
			return fmt.Errorf("reorg check at %d: %w", data.Blocks[0].Number, err)
		}
		if info.Detected {
			p.log.Warn("reorg detected",
				"depth", info.Depth, "fromBlock", info.FromBlock, "safeBlock", info.SafeBlock)
			result, err := p.reorgHandler.Rollback(ctx, from-1, info.SafeBlock)
			if err != nil {
				return fmt.Errorf("reorg rollback: %w", err)
			}
			p.log.Info("reorg rolled back",
				"orphanedBlocks", result.OrphanedBlocks, "duration", result.Duration)
			return ErrReorged
		}
	}

	timestamps := make(map[uint64]uint64, len(data.Blocks))
	for _, b := range data.Blocks {
		timestamps[b.Number] = b.Timestamp
	}

	var (
		events      []domain.CanonicalEvent
		decodeFails int
	)
	for i := range data.Logs {
		log := &data.Logs[i]
		txc := decode.TxContext{BlockTimestamp: timestamps[log.BlockNumber]}
		evs, err := p.registry.Decode(log, txc)
		if err != nil {
			decodeFails++
			p.log.Error("decode failed, log skipped for this pass",
				"block", log.BlockNumber, "tx", log.TxHash.Hex(),
				"logIndex", log.Index, "error", err)
			continue
		}
		events = append(events, evs...)
	}

	delta, err := p.aggregator.Build(ctx, events)
	if err != nil {
		return fmt.Errorf("aggregate %d-%d: %w", from, to, err)
	}

	if _, err := p.reconciler.Apply(ctx, delta); err != nil {
		return fmt.Errorf("apply %d-%d: %w", from, to, err)
	}

	blocks := make([]*domain.Block, len(data.Blocks))
	for i := range data.Blocks {
		blocks[i] = &data.Blocks[i]
	}
	if err := p.store.Blocks().SaveBatch(ctx, blocks); err != nil {
		return fmt.Errorf("save blocks %d-%d: %w", from, to, err)
	}

	if decodeFails > 0 {
		if err := p.recordFailedRange(ctx, from, to, decodeFails); err != nil {
			return err
		}
	}

	metrics.BlocksProcessed.Add(float64(len(data.Blocks)))
	p.log.Debug("range applied",
		"from", from, "to", to, "logs", len(data.Logs),
		"events", len(delta.Events), "backfill", backfill)
	return nil
}

func (p *Pipeline) recordFailedRange(ctx context.Context, from, to uint64, fails int) error {
	fr := &storage.FailedRange{
		ID:        uuid.NewString(),
		FromBlock: from,
		ToBlock:   to,
		Error:     fmt.Sprintf("%d logs failed to decode", fails),
		Status:    storage.FailedRangePending,
		CreatedAt: uint64(time.Now().Unix()),
	}
	if err := p.store.FailedRanges().Add(ctx, fr); err != nil {
		return fmt.Errorf("record failed range %d-%d: %w", from, to, err)
	}
	return nil
}
