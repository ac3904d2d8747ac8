package cli

import (
	"context"
	"testing"
	"time"

	"github.com/openfloor/indexer/internal/queue"
)

type recordingQueue struct {
	payloads []queue.SyncRangePayload
}

func (q *recordingQueue) EnqueueSyncRange(
	ctx context.Context,
	p queue.SyncRangePayload,
	delay time.Duration,
) error {
	q.payloads = append(q.payloads, p)
	return nil
}

func TestEnqueueResyncJobsRealtimeByDefault(t *testing.T) {
	q := &recordingQueue{}
	jobs, err := enqueueResyncJobs(context.Background(), q, 1, 100, 150, 500, false)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobs != 1 || len(q.payloads) != 1 {
		t.Fatalf("jobs = %d, payloads = %d, want 1", jobs, len(q.payloads))
	}
	p := q.payloads[0]
	if p.Backfill {
		t.Error("backfill = true, want realtime without the flag")
	}
	if p.FromBlock != 100 || p.ToBlock != 150 {
		t.Errorf("range = %d-%d, want 100-150", p.FromBlock, p.ToBlock)
	}
}

func TestEnqueueResyncJobsBackfillChunks(t *testing.T) {
	q := &recordingQueue{}
	jobs, err := enqueueResyncJobs(context.Background(), q, 1, 1, 750, 250, true)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobs != 3 {
		t.Fatalf("jobs = %d, want 3", jobs)
	}
	want := []struct{ from, to uint64 }{{1, 250}, {251, 500}, {501, 750}}
	for i, w := range want {
		p := q.payloads[i]
		if p.FromBlock != w.from || p.ToBlock != w.to {
			t.Errorf("job %d = %d-%d, want %d-%d", i, p.FromBlock, p.ToBlock, w.from, w.to)
		}
		if !p.Backfill {
			t.Errorf("job %d backfill = false, want true", i)
		}
	}
}

func TestEnqueueResyncJobsRejectsInvertedRange(t *testing.T) {
	if _, err := enqueueResyncJobs(context.Background(), &recordingQueue{}, 1, 10, 5, 500, false); err == nil {
		t.Fatal("expected error for inverted range")
	}
}
