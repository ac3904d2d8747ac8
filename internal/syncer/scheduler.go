package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openfloor/indexer/internal/infra/storage"
	"github.com/openfloor/indexer/internal/metrics"
	"github.com/openfloor/indexer/internal/queue"
)

// SchedulerConfig bounds the control loop.
type SchedulerConfig struct {
	ChainID        uint64
	TickInterval   time.Duration
	BatchSize      uint64 // realtime blocks per tick
	AllowedLag     uint64 // watermark lag before backfill kicks in
	BackfillChunk  uint64 // blocks per backfill job
	LockTTL        time.Duration
	StartBlock     uint64 // first block when no watermark exists
	MaxFailedTries int
}

func DefaultSchedulerConfig(chainID uint64) SchedulerConfig {
	return SchedulerConfig{
		ChainID:        chainID,
		TickInterval:   2 * time.Second,
		BatchSize:      4,
		AllowedLag:     64,
		BackfillChunk:  500,
		LockTTL:        30 * time.Second,
		MaxFailedTries: 5,
	}
}

// HeadFetcher is the scheduler's only RPC dependency.
type HeadFetcher interface {
	HeadBlock(ctx context.Context) (uint64, error)
}

// TickLocker serializes ticks across processes. Satisfied by the redis
// client.
type TickLocker interface {
	AcquireTickLock(ctx context.Context, chainID uint64, ttl time.Duration) (bool, error)
	ReleaseTickLock(ctx context.Context, chainID uint64) error
}

// RangeEnqueuer pushes sync jobs onto the task queue. Satisfied by the
// queue client.
type RangeEnqueuer interface {
	EnqueueSyncRange(ctx context.Context, p queue.SyncRangePayload, delay time.Duration) error
}

// Scheduler is the per-chain control loop: Idle, Fetching, Applying and
// back to Idle on a fixed tick, with a side path into backfill whenever
// the watermark lags the head by more than the allowed margin. The tick
// is single-flight across processes via a redis lock.
type Scheduler struct {
	cfg       SchedulerConfig
	head      HeadFetcher
	redis     TickLocker
	watermark *WatermarkManager
	queue     RangeEnqueuer
	store     storage.Store
	log       *slog.Logger
}

func NewScheduler(
	cfg SchedulerConfig,
	head HeadFetcher,
	rdb TickLocker,
	watermark *WatermarkManager,
	q RangeEnqueuer,
	store storage.Store,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		head:      head,
		redis:     rdb,
		watermark: watermark,
		queue:     q,
		store:     store,
		log:       log.With("component", "scheduler", "chain", cfg.ChainID),
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started", "tick", s.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	acquired, err := s.redis.AcquireTickLock(ctx, s.cfg.ChainID, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire tick lock: %w", err)
	}
	if !acquired {
		// Another process is advancing this chain.
		return nil
	}
	defer func() {
		if err := s.redis.ReleaseTickLock(ctx, s.cfg.ChainID); err != nil {
			s.log.Warn("release tick lock failed", "error", err)
		}
	}()

	head, err := s.head.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("fetch head: %w", err)
	}

	wm, found, err := s.watermark.Load(ctx)
	if err != nil {
		return err
	}
	if !found {
		wm = s.cfg.StartBlock
		if wm == 0 && head > 0 {
			wm = head - 1
		}
		if err := s.watermark.Advance(ctx, wm); err != nil {
			return err
		}
		s.log.Info("initialized watermark", "block", wm)
	}

	if head > wm {
		metrics.WatermarkLag.Set(float64(head - wm))
	} else {
		metrics.WatermarkLag.Set(0)
	}

	if wm >= head {
		return s.retryFailedRange(ctx)
	}

	// A gap beyond the allowed lag goes to the backfill queue in
	// descending chunks; the watermark jumps to the tip so realtime
	// latency does not wait on history. Idempotence keys make the
	// out-of-band application safe.
	if wm+s.cfg.AllowedLag < head {
		if err := s.enqueueBackfill(ctx, wm+1, head); err != nil {
			return err
		}
		if err := s.watermark.Advance(ctx, head); err != nil {
			return err
		}
		return s.retryFailedRange(ctx)
	}

	to := wm + s.cfg.BatchSize
	if to > head {
		to = head
	}
	err = s.queue.EnqueueSyncRange(ctx, queue.SyncRangePayload{
		ChainID:   s.cfg.ChainID,
		FromBlock: wm + 1,
		ToBlock:   to,
	}, 0)
	if err != nil {
		return fmt.Errorf("enqueue realtime range: %w", err)
	}

	return s.retryFailedRange(ctx)
}

// enqueueBackfill splits [from, to] into chunks and enqueues them newest
// first, so recent history becomes queryable before deep history.
func (s *Scheduler) enqueueBackfill(ctx context.Context, from, to uint64) error {
	chunk := s.cfg.BackfillChunk
	if chunk == 0 {
		chunk = 500
	}

	jobs := 0
	end := to
	for end >= from {
		start := from
		if end >= chunk && end-chunk+1 > from {
			start = end - chunk + 1
		}
		err := s.queue.EnqueueSyncRange(ctx, queue.SyncRangePayload{
			ChainID:   s.cfg.ChainID,
			FromBlock: start,
			ToBlock:   end,
			Backfill:  true,
		}, 0)
		if err != nil {
			return fmt.Errorf("enqueue backfill %d-%d: %w", start, end, err)
		}
		jobs++
		metrics.BackfillJobsEnqueued.Inc()
		if start == from {
			break
		}
		end = start - 1
	}

	s.log.Info("gap detected, backfill enqueued", "from", from, "to", to, "jobs", jobs)
	return nil
}

// Resync force-enqueues [from, to] through the backfill queue. Used by
// the admin resync command; idempotence keys make overlap with already
// applied history a no-op.
func (s *Scheduler) Resync(ctx context.Context, from, to uint64) error {
	if to < from {
		return fmt.Errorf("invalid resync range %d-%d", from, to)
	}
	return s.enqueueBackfill(ctx, from, to)
}

// retryFailedRange re-enqueues at most one pending failed range per
// tick, dead-lettering it once the retry budget is spent.
func (s *Scheduler) retryFailedRange(ctx context.Context) error {
	fr, err := s.store.FailedRanges().GetNext(ctx)
	if err != nil {
		return fmt.Errorf("next failed range: %w", err)
	}
	if fr == nil {
		return nil
	}

	if fr.RetryCount >= s.cfg.MaxFailedTries {
		s.log.Error("failed range exhausted retries, marking dead",
			"id", fr.ID, "from", fr.FromBlock, "to", fr.ToBlock, "error", fr.Error)
		return s.store.FailedRanges().MarkDead(ctx, fr.ID)
	}

	err = s.queue.EnqueueSyncRange(ctx, queue.SyncRangePayload{
		ChainID:   s.cfg.ChainID,
		FromBlock: fr.FromBlock,
		ToBlock:   fr.ToBlock,
		Backfill:  true,
	}, 0)
	if err != nil {
		return fmt.Errorf("re-enqueue failed range %s: %w", fr.ID, err)
	}
	return s.store.FailedRanges().IncrementRetry(ctx, fr.ID)
}
