package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openfloor/indexer/internal/infra/rpc"
	"github.com/openfloor/indexer/internal/metrics"
)

// retryDelay honors a provider's numeric retry-after exactly; anything
// else falls back to asynq's exponential default.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	var rl *rpc.RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return asynq.DefaultRetryDelayFunc(n, err, task)
}

// NewServer builds the main worker server consuming the realtime,
// enrichment and side-effect queues, weighted so a realtime block never
// waits behind enrichment repair.
func NewServer(redisOpt asynq.RedisClientOpt, concurrency int, log *slog.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueRealtime:    6,
			QueueEnrichment:  2,
			QueueSideEffects: 2,
		},
		RetryDelayFunc: retryDelay,
		ErrorHandler:   errorHandler(log),
		Logger:         &slogAdapter{log: log.With("component", "asynq")},
	})
}

// NewBackfillServer builds a single-active server for the backfill
// queue. Concurrency 1 keeps historical range application strictly
// sequential, which the descending chunk order depends on.
func NewBackfillServer(redisOpt asynq.RedisClientOpt, log *slog.Logger) *asynq.Server {
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    1,
		Queues:         map[string]int{QueueBackfill: 1},
		RetryDelayFunc: retryDelay,
		ErrorHandler:   errorHandler(log),
		Logger:         &slogAdapter{log: log.With("component", "asynq-backfill")},
	})
}

func errorHandler(log *slog.Logger) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		queue, _ := asynq.GetQueueName(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		metrics.QueueRetries.WithLabelValues(queue).Inc()
		log.Warn("task failed",
			"queue", queue, "type", task.Type(), "retried", retried, "error", err)
	}
}

// slogAdapter bridges asynq's logger interface onto slog.
type slogAdapter struct {
	log *slog.Logger
}

func (a *slogAdapter) Debug(args ...any) { a.log.Debug(fmt.Sprint(args...)) }
func (a *slogAdapter) Info(args ...any)  { a.log.Info(fmt.Sprint(args...)) }
func (a *slogAdapter) Warn(args ...any)  { a.log.Warn(fmt.Sprint(args...)) }
func (a *slogAdapter) Error(args ...any) { a.log.Error(fmt.Sprint(args...)) }
func (a *slogAdapter) Fatal(args ...any) { a.log.Error(fmt.Sprint(args...)) }
