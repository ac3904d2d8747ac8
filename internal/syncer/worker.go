package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/openfloor/indexer/internal/aggregate"
	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/fetch"
	"github.com/openfloor/indexer/internal/infra/storage"
	"github.com/openfloor/indexer/internal/queue"
)

// Worker consumes queue tasks and runs them through the pipeline.
type Worker struct {
	pipeline   *Pipeline
	aggregator *aggregate.Aggregator
	watermark  *WatermarkManager
	store      storage.Store
	log        *slog.Logger
}

func NewWorker(
	pipeline *Pipeline,
	aggregator *aggregate.Aggregator,
	watermark *WatermarkManager,
	store storage.Store,
	log *slog.Logger,
) *Worker {
	return &Worker{
		pipeline:   pipeline,
		aggregator: aggregator,
		watermark:  watermark,
		store:      store,
		log:        log.With("component", "worker"),
	}
}

// Register wires the worker's handlers onto the mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TypeSyncRange, w.HandleSyncRange)
	mux.HandleFunc(queue.TypeEnrichmentRetry, w.HandleEnrichmentRetry)
	mux.HandleFunc(queue.TypeRecompute, w.HandleRecompute)
}

// HandleSyncRange applies one block range. Rate-limit errors propagate
// so the queue re-enqueues with the provider's exact retry-after; a
// handled reorg ends the task successfully since the rolled-back
// watermark makes the next tick refetch.
func (w *Worker) HandleSyncRange(ctx context.Context, t *asynq.Task) error {
	var p queue.SyncRangePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad sync payload: %v: %w", err, asynq.SkipRetry)
	}

	err := w.pipeline.SyncRange(ctx, p.FromBlock, p.ToBlock, p.Backfill)
	switch {
	case err == nil:
	case errors.Is(err, ErrReorged):
		return nil
	case errors.Is(err, fetch.ErrNotReady):
		return fmt.Errorf("range %d-%d not ready: %w", p.FromBlock, p.ToBlock, err)
	default:
		return err
	}

	if !p.Backfill {
		if err := w.watermark.Advance(ctx, p.ToBlock); err != nil {
			return fmt.Errorf("advance watermark to %d: %w", p.ToBlock, err)
		}
	}
	return nil
}

// HandleEnrichmentRetry re-runs enrichment for pending fills. The
// payload's key is a trigger; any fill still waiting gets repaired in
// the same pass to amortize collaborator round trips.
func (w *Worker) HandleEnrichmentRetry(ctx context.Context, t *asynq.Task) error {
	var p queue.EnrichmentRetryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad enrichment payload: %v: %w", err, asynq.SkipRetry)
	}

	pending, err := w.store.FillEvents().PendingEnrichment(ctx, 50)
	if err != nil {
		return fmt.Errorf("load pending enrichment: %w", err)
	}

	var incomplete int
	for _, row := range pending {
		ev := domain.CanonicalEvent{
			Kind:      domain.EventKindFill,
			OrderKind: row.OrderKind,
			Base:      row.Base,
			Fill:      &row.Data,
		}
		done := w.aggregator.Enrich(ctx, &ev)
		row.NeedsEnrichment = !done
		if !done {
			incomplete++
		}
		key := row.Base.IdempotenceKey()
		if err := w.store.FillEvents().UpdateEnrichment(ctx, key, row); err != nil {
			return fmt.Errorf("update enrichment %s: %w", key, err)
		}
	}

	if incomplete > 0 {
		// Collaborators still down; the retry policy backs off and
		// tries again rather than dropping the repair.
		return fmt.Errorf("%d fills still missing enrichment", incomplete)
	}
	return nil
}

// HandleRecompute acknowledges a derived-aggregate trigger. Floor-ask
// and top-bid recomputation belongs to the downstream read-model
// service consuming this queue; this worker only confirms delivery.
func (w *Worker) HandleRecompute(ctx context.Context, t *asynq.Task) error {
	var p queue.RecomputePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad recompute payload: %v: %w", err, asynq.SkipRetry)
	}
	w.log.Debug("recompute trigger", "kind", p.Kind, "key", p.Key)
	return nil
}
