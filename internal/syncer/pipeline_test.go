package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/openfloor/indexer/internal/aggregate"
	"github.com/openfloor/indexer/internal/decode"
	"github.com/openfloor/indexer/internal/fetch"
	"github.com/openfloor/indexer/internal/infra/rpc"
	"github.com/openfloor/indexer/internal/infra/storage/memory"
	"github.com/openfloor/indexer/internal/reconcile"
	"github.com/openfloor/indexer/internal/reorg"
)

// scriptedRPC serves headers for any requested block and empty log sets.
type scriptedRPC struct {
	mu         sync.Mutex
	batchSizes []int
	logsCalls  int
}

func (c *scriptedRPC) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case "eth_getBlockReceipts", "debug_traceBlockByNumber":
		return nil, rpc.ErrMethodNotSupported
	case "eth_getLogs":
		c.mu.Lock()
		c.logsCalls++
		c.mu.Unlock()
		return json.RawMessage(`[]`), nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func (c *scriptedRPC) BatchCall(ctx context.Context, reqs []rpc.BatchRequest) ([]rpc.BatchResponse, error) {
	c.mu.Lock()
	c.batchSizes = append(c.batchSizes, len(reqs))
	c.mu.Unlock()

	out := make([]rpc.BatchResponse, len(reqs))
	for i, req := range reqs {
		n, err := hexutil.DecodeUint64(req.Params[0].(string))
		if err != nil {
			return nil, fmt.Errorf("bad block number param: %w", err)
		}
		out[i].Result = json.RawMessage(fmt.Sprintf(
			`{"number":"%s","hash":"0x%064x","parentHash":"0x%064x","timestamp":"0x1"}`,
			hexutil.EncodeUint64(n), 0xc000+n, 0xc000+n-1,
		))
	}
	return out, nil
}

func newTestPipeline(client rpc.Client, blocksPerBatch int) (*Pipeline, *memory.Store) {
	store := memory.NewStore()
	fetcher := fetch.New(client, fetch.Config{
		BlocksPerBatch: blocksPerBatch,
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
	}, testLogger())
	registry := decode.NewRegistry(decode.ContractSet{})
	agg := aggregate.New(nil, nil, nil, nil, testLogger())
	rec := reconcile.New(store, nil, testLogger())
	detector := reorg.NewDetector(reorg.Config{MaxDepth: 100}, store.Blocks())
	handler := reorg.NewHandler(store, rec, nil)
	return NewPipeline(fetcher, registry, agg, rec, detector, handler, store, testLogger()), store
}

func TestSyncRangeSplitsWideRanges(t *testing.T) {
	client := &scriptedRPC{}
	p, store := newTestPipeline(client, 32)

	// A backfill-chunk-sized job must not be rejected by the fetch
	// batch limit.
	if err := p.SyncRange(context.Background(), 1, 100, true); err != nil {
		t.Fatalf("sync range: %v", err)
	}

	wantSizes := []int{32, 32, 32, 4}
	if len(client.batchSizes) != len(wantSizes) {
		t.Fatalf("header batches = %v, want %v", client.batchSizes, wantSizes)
	}
	for i, want := range wantSizes {
		if client.batchSizes[i] != want {
			t.Errorf("batch %d size = %d, want %d", i, client.batchSizes[i], want)
		}
	}
	if client.logsCalls != 4 {
		t.Errorf("log fetches = %d, want 4", client.logsCalls)
	}

	for _, n := range []uint64{1, 32, 33, 100} {
		block, err := store.Blocks().GetByNumber(context.Background(), n)
		if err != nil {
			t.Fatalf("get block %d: %v", n, err)
		}
		if block == nil {
			t.Errorf("block %d not saved", n)
		}
	}
}

func TestSyncRangeSingleChunkUnchanged(t *testing.T) {
	client := &scriptedRPC{}
	p, _ := newTestPipeline(client, 32)

	if err := p.SyncRange(context.Background(), 200, 203, true); err != nil {
		t.Fatalf("sync range: %v", err)
	}
	if len(client.batchSizes) != 1 || client.batchSizes[0] != 4 {
		t.Errorf("header batches = %v, want one batch of 4", client.batchSizes)
	}
}

func TestSyncRangeRejectsInvertedRange(t *testing.T) {
	p, _ := newTestPipeline(&scriptedRPC{}, 32)
	if err := p.SyncRange(context.Background(), 10, 5, true); err == nil {
		t.Fatal("expected error for inverted range")
	}
}
