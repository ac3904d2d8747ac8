package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/rpc"
	"github.com/openfloor/indexer/internal/metrics"
)

var (
	// ErrNotReady means the requested range extends past the chain head.
	// Distinct from a true error: the caller just waits for the next tick.
	ErrNotReady = errors.New("block range not yet produced")

	// ErrRangeTooLarge guards the node's response limits.
	ErrRangeTooLarge = errors.New("block range exceeds blocks per batch")
)

// Receipt is the subset of a transaction receipt the pipeline needs.
type Receipt struct {
	TxHash  common.Hash    `json:"transactionHash"`
	Status  hexutil.Uint64 `json:"status"`
	GasUsed hexutil.Uint64 `json:"gasUsed"`
	From    common.Address `json:"from"`
	Logs    []*types.Log   `json:"logs"`
}

// RangeData is everything fetched for one inclusive block range.
type RangeData struct {
	Blocks   []domain.Block
	Logs     []types.Log
	Receipts map[common.Hash]*Receipt
}

// Config bounds fetch behavior.
type Config struct {
	BlocksPerBatch int
	MaxAttempts    uint64
	InitialBackoff time.Duration
	ReceiptFanout  int
	FetchReceipts  bool
}

func DefaultConfig() Config {
	return Config{
		BlocksPerBatch: 32,
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		ReceiptFanout:  5,
		FetchReceipts:  true,
	}
}

// Fetcher retrieves blocks, logs and receipts for block ranges. Node
// capability differences (batch receipts, traces) are probed once and
// hidden behind per-transaction fallbacks.
type Fetcher struct {
	client rpc.Client
	cfg    Config
	log    *slog.Logger

	probeOnce             sync.Once
	supportsBlockReceipts bool
	supportsTraces        bool
}

func New(client rpc.Client, cfg Config, log *slog.Logger) *Fetcher {
	if cfg.BlocksPerBatch <= 0 {
		cfg.BlocksPerBatch = DefaultConfig().BlocksPerBatch
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.ReceiptFanout <= 0 {
		cfg.ReceiptFanout = DefaultConfig().ReceiptFanout
	}
	return &Fetcher{client: client, cfg: cfg, log: log}
}

// Probe detects optional node capabilities. Called lazily on the first
// fetch; safe to call explicitly at startup.
func (f *Fetcher) Probe(ctx context.Context) {
	f.probeOnce.Do(func() {
		_, err := f.client.Call(ctx, "eth_getBlockReceipts", "latest")
		f.supportsBlockReceipts = !errors.Is(err, rpc.ErrMethodNotSupported)

		_, err = f.client.Call(ctx, "debug_traceBlockByNumber", "latest", map[string]any{})
		f.supportsTraces = !errors.Is(err, rpc.ErrMethodNotSupported)

		f.log.Info("node capabilities probed",
			"blockReceipts", f.supportsBlockReceipts,
			"traces", f.supportsTraces,
		)
	})
}

// SupportsTraces reports whether debug_traceBlockByNumber is available.
func (f *Fetcher) SupportsTraces() bool { return f.supportsTraces }

// BlocksPerBatch is the largest range FetchRange accepts.
func (f *Fetcher) BlocksPerBatch() uint64 { return uint64(f.cfg.BlocksPerBatch) }

// HeadBlock returns the node's current head number.
func (f *Fetcher) HeadBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := f.withRetry(ctx, func(ctx context.Context) error {
		raw, err := f.client.Call(ctx, "eth_blockNumber")
		if err != nil {
			return err
		}
		var hex hexutil.Uint64
		if err := json.Unmarshal(raw, &hex); err != nil {
			return fmt.Errorf("parse head: %w", err)
		}
		head = uint64(hex)
		return nil
	})
	return head, err
}

// BlockByNumber fetches a single header; returns nil, nil when the block
// has not been produced yet.
func (f *Fetcher) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	raw, err := f.client.Call(ctx, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	return parseHeader(raw)
}

// FetchRange retrieves headers, logs and receipts for [from, to]. The
// range must fit BlocksPerBatch. A partially produced range yields
// ErrNotReady rather than partial data.
func (f *Fetcher) FetchRange(ctx context.Context, from, to uint64) (*RangeData, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range %d-%d", from, to)
	}
	if int(to-from+1) > f.cfg.BlocksPerBatch {
		return nil, fmt.Errorf("%w: %d blocks > %d", ErrRangeTooLarge, to-from+1, f.cfg.BlocksPerBatch)
	}
	f.Probe(ctx)

	start := time.Now()
	var data *RangeData
	err := f.withRetry(ctx, func(ctx context.Context) error {
		blocks, err := f.fetchHeaders(ctx, from, to)
		if err != nil {
			return err
		}

		logs, err := f.fetchLogs(ctx, from, to)
		if err != nil {
			return err
		}

		receipts := map[common.Hash]*Receipt{}
		if f.cfg.FetchReceipts {
			receipts, err = f.fetchReceipts(ctx, blocks, logs)
			if err != nil {
				return err
			}
		}

		data = &RangeData{Blocks: blocks, Logs: logs, Receipts: receipts}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.FetchRangeDuration.Observe(time.Since(start).Seconds())
	metrics.LogsFetched.Add(float64(len(data.Logs)))
	return data, nil
}

func (f *Fetcher) fetchHeaders(ctx context.Context, from, to uint64) ([]domain.Block, error) {
	reqs := make([]rpc.BatchRequest, 0, to-from+1)
	for n := from; n <= to; n++ {
		reqs = append(reqs, rpc.BatchRequest{
			Method: "eth_getBlockByNumber",
			Params: []any{hexutil.EncodeUint64(n), false},
		})
	}

	resps, err := f.client.BatchCall(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("fetch headers %d-%d: %w", from, to, err)
	}

	blocks := make([]domain.Block, 0, len(resps))
	for _, resp := range resps {
		if resp.Err != nil {
			return nil, fmt.Errorf("fetch header: %w", resp.Err)
		}
		if isNull(resp.Result) {
			// Range extends past the head. Not an error.
			return nil, ErrNotReady
		}
		block, err := parseHeader(resp.Result)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *block)
	}
	return blocks, nil
}

func (f *Fetcher) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	// No address or topic filter: transfer events come from arbitrary
	// ERC-721/1155 contracts, so every log in the range is scanned.
	raw, err := f.client.Call(ctx, "eth_getLogs", map[string]any{
		"fromBlock": hexutil.EncodeUint64(from),
		"toBlock":   hexutil.EncodeUint64(to),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch logs %d-%d: %w", from, to, err)
	}

	var logs []types.Log
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("parse logs: %w", err)
	}
	return logs, nil
}

func (f *Fetcher) fetchReceipts(
	ctx context.Context,
	blocks []domain.Block,
	logs []types.Log,
) (map[common.Hash]*Receipt, error) {
	if f.supportsBlockReceipts {
		return f.fetchBlockReceipts(ctx, blocks)
	}
	return f.fetchReceiptsPerTx(ctx, logs)
}

func (f *Fetcher) fetchBlockReceipts(
	ctx context.Context,
	blocks []domain.Block,
) (map[common.Hash]*Receipt, error) {
	out := make(map[common.Hash]*Receipt)
	for _, b := range blocks {
		raw, err := f.client.Call(ctx, "eth_getBlockReceipts", hexutil.EncodeUint64(b.Number))
		if err != nil {
			return nil, fmt.Errorf("fetch receipts for block %d: %w", b.Number, err)
		}
		var receipts []*Receipt
		if err := json.Unmarshal(raw, &receipts); err != nil {
			return nil, fmt.Errorf("parse receipts: %w", err)
		}
		for _, r := range receipts {
			out[r.TxHash] = r
		}
	}
	return out, nil
}

// fetchReceiptsPerTx is the fallback for nodes without a batch receipt
// endpoint: every transaction that emitted a log is fetched individually.
func (f *Fetcher) fetchReceiptsPerTx(
	ctx context.Context,
	logs []types.Log,
) (map[common.Hash]*Receipt, error) {
	seen := make(map[common.Hash]struct{})
	var hashes []common.Hash
	for _, l := range logs {
		if _, ok := seen[l.TxHash]; ok {
			continue
		}
		seen[l.TxHash] = struct{}{}
		hashes = append(hashes, l.TxHash)
	}

	out := make(map[common.Hash]*Receipt, len(hashes))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.ReceiptFanout)
	for _, h := range hashes {
		g.Go(func() error {
			raw, err := f.client.Call(ctx, "eth_getTransactionReceipt", h.Hex())
			if err != nil {
				return fmt.Errorf("fetch receipt %s: %w", h.Hex(), err)
			}
			if isNull(raw) {
				return nil
			}
			var r Receipt
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("parse receipt %s: %w", h.Hex(), err)
			}
			mu.Lock()
			out[r.TxHash] = &r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// withRetry runs fn with bounded exponential backoff. ErrNotReady and
// rate limits are not retried here: not-ready resolves on a later tick
// and retry-after is honored through the queue's delay mechanism.
func (f *Fetcher) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(f.cfg.MaxAttempts, retry.NewExponential(f.cfg.InitialBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var rateLimited *rpc.RateLimitedError
		if errors.Is(err, ErrNotReady) || errors.As(err, &rateLimited) {
			return err
		}
		metrics.RPCErrors.Inc()
		return retry.RetryableError(err)
	})
}

type rawHeader struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}

func parseHeader(raw json.RawMessage) (*domain.Block, error) {
	var h rawHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	return &domain.Block{
		Number:     uint64(h.Number),
		Hash:       h.Hash,
		ParentHash: h.ParentHash,
		Timestamp:  uint64(h.Timestamp),
		Status:     domain.BlockStatusSeen,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
