package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openfloor/indexer/internal/reconcile"
)

// Options mirror the enqueue contract: optional dedup id, delayed
// visibility, and retry cap before dead-lettering (asynq archives
// exhausted tasks rather than dropping them).
type Options struct {
	JobID    string
	Delay    time.Duration
	MaxRetry int
}

// Client publishes tasks. It also satisfies reconcile.Enqueuer so the
// reconciler can emit side effects without knowing about asynq.
type Client struct {
	inner   *asynq.Client
	chainID uint64
	log     *slog.Logger
}

func NewClient(redisOpt asynq.RedisClientOpt, chainID uint64, log *slog.Logger) *Client {
	return &Client{
		inner:   asynq.NewClient(redisOpt),
		chainID: chainID,
		log:     log.With("component", "queue"),
	}
}

func (c *Client) Close() error { return c.inner.Close() }

// EnqueueTask publishes one task to the named queue. A duplicate JobID
// while the original is still pending or in flight is a silent no-op.
func (c *Client) EnqueueTask(ctx context.Context, queue, taskType string, payload any, opt Options) error {
	task, err := newTask(taskType, payload)
	if err != nil {
		return err
	}

	opts := []asynq.Option{asynq.Queue(queue)}
	if opt.JobID != "" {
		opts = append(opts, asynq.TaskID(opt.JobID))
	}
	if opt.Delay > 0 {
		opts = append(opts, asynq.ProcessIn(opt.Delay))
	}
	if opt.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(opt.MaxRetry))
	}

	if _, err := c.inner.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue %s on %s: %w", taskType, queue, err)
	}
	return nil
}

// EnqueueSyncRange publishes a block range to the realtime or backfill
// queue depending on the payload.
func (c *Client) EnqueueSyncRange(ctx context.Context, p SyncRangePayload, delay time.Duration) error {
	queue := QueueRealtime
	if p.Backfill {
		queue = QueueBackfill
	}
	return c.EnqueueTask(ctx, queue, TypeSyncRange, p, Options{
		JobID: p.JobID(),
		Delay: delay,
	})
}

// EnqueueEnrichmentRetry schedules one fill for enrichment repair.
func (c *Client) EnqueueEnrichmentRetry(ctx context.Context, key string, delay time.Duration) error {
	p := EnrichmentRetryPayload{ChainID: c.chainID, IdempotenceKey: key}
	return c.EnqueueTask(ctx, QueueEnrichment, TypeEnrichmentRetry, p, Options{
		JobID: fmt.Sprintf("enrich:%s", key),
		Delay: delay,
	})
}

// Enqueue implements reconcile.Enqueuer. Enrichment retries route to the
// enrichment queue with a short delay so the failing collaborator gets a
// breather; everything else becomes a recompute task.
func (c *Client) Enqueue(ctx context.Context, items []reconcile.WorkItem) error {
	for _, item := range items {
		if item.Kind == reconcile.WorkEnrichmentRetry {
			if err := c.EnqueueEnrichmentRetry(ctx, item.Key, 30*time.Second); err != nil {
				return err
			}
			continue
		}
		p := RecomputePayload{Kind: item.Kind, Key: item.Key}
		err := c.EnqueueTask(ctx, QueueSideEffects, TypeRecompute, p, Options{
			JobID: fmt.Sprintf("%s:%s", item.Kind, item.Key),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
