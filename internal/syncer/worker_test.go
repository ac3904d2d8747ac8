package syncer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"

	"github.com/openfloor/indexer/internal/aggregate"
	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage"
	"github.com/openfloor/indexer/internal/infra/storage/memory"
	"github.com/openfloor/indexer/internal/queue"
)

type stubOracle struct {
	fail bool
}

func (o *stubOracle) Convert(
	ctx context.Context,
	currency common.Address,
	amount *big.Int,
	timestamp uint64,
) (float64, float64, error) {
	if o.fail {
		return 0, 0, errors.New("oracle down")
	}
	return 12.5, 0.01, nil
}

func pendingFill(key common.Hash) *storage.FillEvent {
	return &storage.FillEvent{
		Base: domain.BaseEventParams{
			TxHash:   key,
			Block:    10,
			LogIndex: 1,
		},
		OrderKind: domain.OrderKindSeaport,
		Data: domain.FillData{
			OrderID: "order-1",
			Price:   big.NewInt(1000),
		},
		EffectiveAmount: big.NewInt(1),
		NeedsEnrichment: true,
	}
}

func TestHandleSyncRangeBadPayload(t *testing.T) {
	w := NewWorker(nil, nil, nil, memory.NewStore(), testLogger())

	task := asynq.NewTask(queue.TypeSyncRange, []byte("not json"))
	err := w.HandleSyncRange(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry for an unparseable payload", err)
	}
}

func TestHandleEnrichmentRetryRepairsPending(t *testing.T) {
	store := memory.NewStore()
	if err := store.FillEvents().Save(context.Background(), pendingFill(common.HexToHash("0x01"))); err != nil {
		t.Fatal(err)
	}
	agg := aggregate.New(&stubOracle{}, nil, nil, nil, testLogger())
	w := NewWorker(nil, agg, nil, store, testLogger())

	task := asynq.NewTask(queue.TypeEnrichmentRetry, []byte(`{"chain_id":1,"idempotence_key":"0x01:1:0"}`))
	if err := w.HandleEnrichmentRetry(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	pending, _ := store.FillEvents().PendingEnrichment(context.Background(), 10)
	if len(pending) != 0 {
		t.Errorf("pending fills = %d, want 0 after repair", len(pending))
	}
}

func TestHandleEnrichmentRetryKeepsFailingFills(t *testing.T) {
	store := memory.NewStore()
	if err := store.FillEvents().Save(context.Background(), pendingFill(common.HexToHash("0x01"))); err != nil {
		t.Fatal(err)
	}
	agg := aggregate.New(&stubOracle{fail: true}, nil, nil, nil, testLogger())
	w := NewWorker(nil, agg, nil, store, testLogger())

	task := asynq.NewTask(queue.TypeEnrichmentRetry, []byte(`{"chain_id":1,"idempotence_key":"0x01:1:0"}`))
	if err := w.HandleEnrichmentRetry(context.Background(), task); err == nil {
		t.Fatal("expected error so the queue backs off and retries")
	}

	pending, _ := store.FillEvents().PendingEnrichment(context.Background(), 10)
	if len(pending) != 1 {
		t.Errorf("pending fills = %d, want 1 while the oracle is down", len(pending))
	}
}

func TestHandleRecompute(t *testing.T) {
	w := NewWorker(nil, nil, nil, memory.NewStore(), testLogger())

	ok := asynq.NewTask(queue.TypeRecompute, []byte(`{"kind":"order-status-changed","key":"order-1"}`))
	if err := w.HandleRecompute(context.Background(), ok); err != nil {
		t.Fatalf("handle: %v", err)
	}

	bad := asynq.NewTask(queue.TypeRecompute, []byte("not json"))
	if err := w.HandleRecompute(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}
}
