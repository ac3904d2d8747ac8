package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/openfloor/indexer/internal/infra/storage"
	"github.com/openfloor/indexer/internal/infra/storage/memory"
	"github.com/openfloor/indexer/internal/queue"
)

type fakeHead struct {
	head  uint64
	calls int
}

func (f *fakeHead) HeadBlock(ctx context.Context) (uint64, error) {
	f.calls++
	return f.head, nil
}

type fakeTickLock struct {
	acquired bool
	released bool
}

func (f *fakeTickLock) AcquireTickLock(ctx context.Context, chainID uint64, ttl time.Duration) (bool, error) {
	return f.acquired, nil
}

func (f *fakeTickLock) ReleaseTickLock(ctx context.Context, chainID uint64) error {
	f.released = true
	return nil
}

type recordingQueue struct {
	payloads []queue.SyncRangePayload
}

func (q *recordingQueue) EnqueueSyncRange(ctx context.Context, p queue.SyncRangePayload, delay time.Duration) error {
	q.payloads = append(q.payloads, p)
	return nil
}

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ChainID:        1,
		TickInterval:   time.Second,
		BatchSize:      4,
		AllowedLag:     10,
		BackfillChunk:  500,
		LockTTL:        time.Second,
		MaxFailedTries: 2,
	}
}

func newTestScheduler(
	cfg SchedulerConfig,
	head *fakeHead,
	lock *fakeTickLock,
	q *recordingQueue,
	store *memory.Store,
	rdb *fakeRuntimeWatermarks,
) *Scheduler {
	watermark := NewWatermarkManager(rdb, store, cfg.ChainID, 10, testLogger())
	return NewScheduler(cfg, head, lock, watermark, q, store, testLogger())
}

func TestTickSkipsWithoutLock(t *testing.T) {
	head := &fakeHead{head: 100}
	q := &recordingQueue{}
	s := newTestScheduler(testSchedulerConfig(), head, &fakeTickLock{acquired: false}, q,
		memory.NewStore(), newFakeRuntimeWatermarks())

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if head.calls != 0 {
		t.Errorf("head fetched %d times, want 0 when another process holds the lock", head.calls)
	}
	if len(q.payloads) != 0 {
		t.Errorf("enqueued %d jobs, want 0", len(q.payloads))
	}
}

func TestTickEnqueuesRealtimeRange(t *testing.T) {
	head := &fakeHead{head: 102}
	lock := &fakeTickLock{acquired: true}
	q := &recordingQueue{}
	rdb := newFakeRuntimeWatermarks()
	rdb.wm[1] = 100
	s := newTestScheduler(testSchedulerConfig(), head, lock, q, memory.NewStore(), rdb)

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(q.payloads) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(q.payloads))
	}
	p := q.payloads[0]
	if p.FromBlock != 101 || p.ToBlock != 102 || p.Backfill {
		t.Errorf("payload = %+v, want realtime 101-102", p)
	}
	if !lock.released {
		t.Error("tick lock must be released")
	}
}

func TestTickCapsRealtimeBatchAtBatchSize(t *testing.T) {
	head := &fakeHead{head: 200}
	q := &recordingQueue{}
	rdb := newFakeRuntimeWatermarks()
	rdb.wm[1] = 195
	s := newTestScheduler(testSchedulerConfig(), head, &fakeTickLock{acquired: true}, q,
		memory.NewStore(), rdb)

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(q.payloads) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(q.payloads))
	}
	if q.payloads[0].FromBlock != 196 || q.payloads[0].ToBlock != 199 {
		t.Errorf("payload = %+v, want 196-199", q.payloads[0])
	}
}

func TestTickNoopAtHead(t *testing.T) {
	head := &fakeHead{head: 100}
	q := &recordingQueue{}
	rdb := newFakeRuntimeWatermarks()
	rdb.wm[1] = 100
	s := newTestScheduler(testSchedulerConfig(), head, &fakeTickLock{acquired: true}, q,
		memory.NewStore(), rdb)

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(q.payloads) != 0 {
		t.Errorf("enqueued %d jobs at head, want 0", len(q.payloads))
	}
}

func TestTickInitializesWatermarkNearHead(t *testing.T) {
	head := &fakeHead{head: 50}
	q := &recordingQueue{}
	rdb := newFakeRuntimeWatermarks()
	s := newTestScheduler(testSchedulerConfig(), head, &fakeTickLock{acquired: true}, q,
		memory.NewStore(), rdb)

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if rdb.wm[1] != 49 {
		t.Errorf("initialized watermark = %d, want head-1", rdb.wm[1])
	}
	if len(q.payloads) != 1 || q.payloads[0].FromBlock != 50 || q.payloads[0].ToBlock != 50 {
		t.Errorf("payloads = %+v, want one realtime job for block 50", q.payloads)
	}
}

func TestTickGapGoesToBackfill(t *testing.T) {
	head := &fakeHead{head: 2000}
	q := &recordingQueue{}
	rdb := newFakeRuntimeWatermarks()
	rdb.wm[1] = 100
	s := newTestScheduler(testSchedulerConfig(), head, &fakeTickLock{acquired: true}, q,
		memory.NewStore(), rdb)

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	want := []struct{ from, to uint64 }{
		{1501, 2000}, {1001, 1500}, {501, 1000}, {101, 500},
	}
	if len(q.payloads) != len(want) {
		t.Fatalf("enqueued %d jobs, want %d", len(q.payloads), len(want))
	}
	for i, w := range want {
		p := q.payloads[i]
		if p.FromBlock != w.from || p.ToBlock != w.to {
			t.Errorf("job %d = %d-%d, want %d-%d", i, p.FromBlock, p.ToBlock, w.from, w.to)
		}
		if !p.Backfill {
			t.Errorf("job %d not marked backfill", i)
		}
	}

	// The watermark jumps to the head so realtime latency does not wait
	// for history; overlap is absorbed by idempotence keys.
	if rdb.wm[1] != 2000 {
		t.Errorf("watermark = %d, want fast-forward to 2000", rdb.wm[1])
	}
}

func TestTickRetriesFailedRange(t *testing.T) {
	head := &fakeHead{head: 100}
	q := &recordingQueue{}
	rdb := newFakeRuntimeWatermarks()
	rdb.wm[1] = 100
	store := memory.NewStore()
	err := store.FailedRanges().Add(context.Background(), &storage.FailedRange{
		ID:        "fr-1",
		FromBlock: 40,
		ToBlock:   44,
		Status:    storage.FailedRangePending,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := newTestScheduler(testSchedulerConfig(), head, &fakeTickLock{acquired: true}, q, store, rdb)

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(q.payloads) != 1 {
		t.Fatalf("enqueued %d jobs, want 1 retry", len(q.payloads))
	}
	if q.payloads[0].FromBlock != 40 || q.payloads[0].ToBlock != 44 || !q.payloads[0].Backfill {
		t.Errorf("payload = %+v, want backfill 40-44", q.payloads[0])
	}

	fr, _ := store.FailedRanges().GetNext(context.Background())
	if fr == nil || fr.RetryCount != 1 {
		t.Errorf("failed range = %+v, want retry count 1", fr)
	}
}

func TestTickDeadLettersExhaustedRange(t *testing.T) {
	head := &fakeHead{head: 100}
	q := &recordingQueue{}
	rdb := newFakeRuntimeWatermarks()
	rdb.wm[1] = 100
	store := memory.NewStore()
	err := store.FailedRanges().Add(context.Background(), &storage.FailedRange{
		ID:         "fr-1",
		FromBlock:  40,
		ToBlock:    44,
		RetryCount: 2, // equals MaxFailedTries
		Status:     storage.FailedRangePending,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := newTestScheduler(testSchedulerConfig(), head, &fakeTickLock{acquired: true}, q, store, rdb)

	if err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(q.payloads) != 0 {
		t.Errorf("enqueued %d jobs, want 0 for a dead range", len(q.payloads))
	}
	fr, _ := store.FailedRanges().GetNext(context.Background())
	if fr != nil {
		t.Errorf("pending range = %+v, want none after dead-lettering", fr)
	}
}

func TestResyncValidatesRange(t *testing.T) {
	s := newTestScheduler(testSchedulerConfig(), &fakeHead{}, &fakeTickLock{}, &recordingQueue{},
		memory.NewStore(), newFakeRuntimeWatermarks())

	if err := s.Resync(context.Background(), 10, 5); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestResyncEnqueuesChunks(t *testing.T) {
	q := &recordingQueue{}
	s := newTestScheduler(testSchedulerConfig(), &fakeHead{}, &fakeTickLock{}, q,
		memory.NewStore(), newFakeRuntimeWatermarks())

	if err := s.Resync(context.Background(), 1, 750); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if len(q.payloads) != 2 {
		t.Fatalf("enqueued %d jobs, want 2", len(q.payloads))
	}
	if q.payloads[0].FromBlock != 251 || q.payloads[0].ToBlock != 750 {
		t.Errorf("first job = %+v, want newest chunk 251-750", q.payloads[0])
	}
	if q.payloads[1].FromBlock != 1 || q.payloads[1].ToBlock != 250 {
		t.Errorf("second job = %+v, want 1-250", q.payloads[1])
	}
}
