package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openfloor/indexer/internal/infra/rpc"
)

func TestSyncRangeJobID(t *testing.T) {
	realtime := SyncRangePayload{ChainID: 1, FromBlock: 100, ToBlock: 103}
	if got := realtime.JobID(); got != "realtime:1:100-103" {
		t.Errorf("job id = %q, want realtime:1:100-103", got)
	}

	backfill := SyncRangePayload{ChainID: 1, FromBlock: 100, ToBlock: 103, Backfill: true}
	if got := backfill.JobID(); got != "backfill:1:100-103" {
		t.Errorf("job id = %q, want backfill:1:100-103", got)
	}

	// The same range may legitimately sit on both paths at once.
	if realtime.JobID() == backfill.JobID() {
		t.Error("realtime and backfill ids must not collide")
	}
}

func TestRetryDelayHonorsRateLimit(t *testing.T) {
	task := asynq.NewTask(TypeSyncRange, nil)
	err := fmt.Errorf("fetch range: %w", &rpc.RateLimitedError{RetryAfter: 42 * time.Second})

	if got := retryDelay(3, err, task); got != 42*time.Second {
		t.Errorf("delay = %s, want the provider's 42s", got)
	}
}

func TestRetryDelayDefaultsOtherwise(t *testing.T) {
	task := asynq.NewTask(TypeSyncRange, nil)
	err := errors.New("connection reset")

	// DefaultRetryDelayFunc jitters, so assert the n=0 window instead of
	// an exact value.
	got := retryDelay(0, err, task)
	if got < 15*time.Second || got >= 45*time.Second {
		t.Errorf("delay = %s, want within asynq's default 15-45s window", got)
	}
}
