// Package queue is the durable work queue layer, backed by asynq on
// redis. It carries both sync paths: realtime (one block batch at a
// time, high priority) and backfill (large historical ranges, chunked,
// low priority, strictly sequential), plus enrichment repair and
// side-effect recomputation traffic.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Queue names, in priority order. Weights are set in NewServer; the
// backfill queue is consumed by a dedicated single-active server so
// historical ranges apply strictly sequentially.
const (
	QueueRealtime    = "realtime"
	QueueBackfill    = "backfill"
	QueueEnrichment  = "enrichment"
	QueueSideEffects = "side-effects"
)

// Task types.
const (
	TypeSyncRange       = "sync:range"
	TypeEnrichmentRetry = "enrich:retry"
	TypeRecompute       = "aggregate:recompute"
)

// SyncRangePayload asks a worker to fetch, decode and apply one
// inclusive block range. Backfill marks ranges that may apply out of
// band with the realtime path; idempotence keys make that safe.
type SyncRangePayload struct {
	ChainID   uint64 `json:"chain_id"`
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
	Backfill  bool   `json:"backfill"`
}

// JobID dedupes a pending range so overlapping scheduler ticks cannot
// double-enqueue the same work.
func (p SyncRangePayload) JobID() string {
	kind := "realtime"
	if p.Backfill {
		kind = "backfill"
	}
	return fmt.Sprintf("%s:%d:%d-%d", kind, p.ChainID, p.FromBlock, p.ToBlock)
}

// EnrichmentRetryPayload repairs one fill whose enrichment collaborators
// were unavailable at apply time.
type EnrichmentRetryPayload struct {
	ChainID        uint64 `json:"chain_id"`
	IdempotenceKey string `json:"idempotence_key"`
}

// RecomputePayload triggers derived-aggregate recomputation for one
// changed entity.
type RecomputePayload struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, raw), nil
}
