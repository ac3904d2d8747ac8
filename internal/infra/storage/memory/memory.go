package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage"
)

// Store is an in-memory storage.Store. It backs unit tests and the
// --memory development mode. RunInTx serializes callers under one lock;
// there is no rollback, so test transitions must not partially mutate.
type Store struct {
	mu sync.Mutex

	orders     map[string]*domain.Order
	balances   map[string]*domain.NftBalance
	fills      map[string]*storage.FillEvent
	cancels    map[string]*storage.CancelEvent
	transfers  map[string]*storage.TransferEvent
	approvals  map[string]bool
	blocks     map[uint64]*domain.Block
	watermarks map[uint64]*domain.Watermark
	failed     map[string]*storage.FailedRange
}

func NewStore() *Store {
	return &Store{
		orders:     make(map[string]*domain.Order),
		balances:   make(map[string]*domain.NftBalance),
		fills:      make(map[string]*storage.FillEvent),
		cancels:    make(map[string]*storage.CancelEvent),
		transfers:  make(map[string]*storage.TransferEvent),
		approvals:  make(map[string]bool),
		blocks:     make(map[uint64]*domain.Block),
		watermarks: make(map[uint64]*domain.Watermark),
		failed:     make(map[string]*storage.FailedRange),
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx storage.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(reposView{s})
}

func (s *Store) Orders() storage.OrderRepository            { return &orderRepo{s} }
func (s *Store) Balances() storage.BalanceRepository        { return &balanceRepo{s} }
func (s *Store) FillEvents() storage.FillEventRepository    { return &fillRepo{s} }
func (s *Store) CancelEvents() storage.CancelEventRepository { return &cancelRepo{s} }
func (s *Store) TransferEvents() storage.TransferEventRepository {
	return &transferRepo{s}
}
func (s *Store) Approvals() storage.ApprovalRepository       { return &approvalRepo{s} }
func (s *Store) Blocks() storage.BlockRepository             { return &blockRepo{s} }
func (s *Store) Watermarks() storage.WatermarkRepository     { return &watermarkRepo{s} }
func (s *Store) FailedRanges() storage.FailedRangeRepository { return &failedRepo{s} }

// reposView is handed to RunInTx callbacks. The store lock is already
// held, so the repos it returns skip locking.
type reposView struct{ s *Store }

func (v reposView) Orders() storage.OrderRepository             { return &orderRepo{v.s} }
func (v reposView) Balances() storage.BalanceRepository         { return &balanceRepo{v.s} }
func (v reposView) FillEvents() storage.FillEventRepository     { return &fillRepo{v.s} }
func (v reposView) CancelEvents() storage.CancelEventRepository { return &cancelRepo{v.s} }
func (v reposView) TransferEvents() storage.TransferEventRepository {
	return &transferRepo{v.s}
}
func (v reposView) Approvals() storage.ApprovalRepository       { return &approvalRepo{v.s} }
func (v reposView) Blocks() storage.BlockRepository             { return &blockRepo{v.s} }
func (v reposView) Watermarks() storage.WatermarkRepository     { return &watermarkRepo{v.s} }
func (v reposView) FailedRanges() storage.FailedRangeRepository { return &failedRepo{v.s} }

func balanceKey(contract common.Address, tokenID *big.Int, owner common.Address) string {
	return contract.Hex() + ":" + tokenID.String() + ":" + owner.Hex()
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.Price != nil {
		c.Price = new(big.Int).Set(o.Price)
	}
	if o.NormalizedValue != nil {
		c.NormalizedValue = new(big.Int).Set(o.NormalizedValue)
	}
	if o.QuantityFilled != nil {
		c.QuantityFilled = new(big.Int).Set(o.QuantityFilled)
	}
	if o.QuantityRemaining != nil {
		c.QuantityRemaining = new(big.Int).Set(o.QuantityRemaining)
	}
	if o.TokenID != nil {
		c.TokenID = new(big.Int).Set(o.TokenID)
	}
	return &c
}

type orderRepo struct{ s *Store }

func (r *orderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

func (r *orderRepo) Save(ctx context.Context, order *domain.Order) error {
	r.s.orders[order.ID] = copyOrder(order)
	return nil
}

func (r *orderRepo) UpdateApproval(
	ctx context.Context,
	maker, contract common.Address,
	status domain.ApprovalStatus,
) ([]string, error) {
	var ids []string
	for id, o := range r.s.orders {
		if o.Maker == maker && o.Contract == contract && o.ApprovalStatus != status {
			o.ApprovalStatus = status
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type balanceRepo struct{ s *Store }

func (r *balanceRepo) Get(
	ctx context.Context,
	contract common.Address,
	tokenID *big.Int,
	owner common.Address,
) (*domain.NftBalance, error) {
	b, ok := r.s.balances[balanceKey(contract, tokenID, owner)]
	if !ok {
		return nil, nil
	}
	c := *b
	c.Amount = new(big.Int).Set(b.Amount)
	c.TokenID = new(big.Int).Set(b.TokenID)
	return &c, nil
}

func (r *balanceRepo) Save(ctx context.Context, balance *domain.NftBalance) error {
	c := *balance
	c.Amount = new(big.Int).Set(balance.Amount)
	c.TokenID = new(big.Int).Set(balance.TokenID)
	r.s.balances[balanceKey(balance.Contract, balance.TokenID, balance.Owner)] = &c
	return nil
}

type fillRepo struct{ s *Store }

func (r *fillRepo) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := r.s.fills[key]
	return ok, nil
}

func (r *fillRepo) Save(ctx context.Context, ev *storage.FillEvent) error {
	c := *ev
	r.s.fills[ev.Base.IdempotenceKey()] = &c
	return nil
}

func (r *fillRepo) ByBlockHash(
	ctx context.Context,
	hash common.Hash,
) ([]*storage.FillEvent, error) {
	var out []*storage.FillEvent
	for _, ev := range r.s.fills {
		if ev.Base.BlockHash == hash {
			out = append(out, ev)
		}
	}
	sortByLogIndexFills(out)
	return out, nil
}

func (r *fillRepo) DeleteByBlockHash(ctx context.Context, hash common.Hash) error {
	for k, ev := range r.s.fills {
		if ev.Base.BlockHash == hash {
			delete(r.s.fills, k)
		}
	}
	return nil
}

func (r *fillRepo) UpdateEnrichment(
	ctx context.Context,
	key string,
	ev *storage.FillEvent,
) error {
	if stored, ok := r.s.fills[key]; ok {
		stored.Data.USDPrice = ev.Data.USDPrice
		stored.Data.NativePrice = ev.Data.NativePrice
		stored.Data.Royalties = ev.Data.Royalties
		stored.Data.Attribution = ev.Data.Attribution
		stored.Data.WashScore = ev.Data.WashScore
		stored.NeedsEnrichment = ev.NeedsEnrichment
	}
	return nil
}

func (r *fillRepo) PendingEnrichment(
	ctx context.Context,
	limit int,
) ([]*storage.FillEvent, error) {
	var out []*storage.FillEvent
	for _, ev := range r.s.fills {
		if ev.NeedsEnrichment {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type cancelRepo struct{ s *Store }

func (r *cancelRepo) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := r.s.cancels[key]
	return ok, nil
}

func (r *cancelRepo) Save(ctx context.Context, ev *storage.CancelEvent) error {
	c := *ev
	r.s.cancels[ev.Base.IdempotenceKey()] = &c
	return nil
}

func (r *cancelRepo) ByBlockHash(
	ctx context.Context,
	hash common.Hash,
) ([]*storage.CancelEvent, error) {
	var out []*storage.CancelEvent
	for _, ev := range r.s.cancels {
		if ev.Base.BlockHash == hash {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Base.LogIndex != out[j].Base.LogIndex {
			return out[i].Base.LogIndex < out[j].Base.LogIndex
		}
		return out[i].Base.BatchIndex < out[j].Base.BatchIndex
	})
	return out, nil
}

func (r *cancelRepo) DeleteByBlockHash(ctx context.Context, hash common.Hash) error {
	for k, ev := range r.s.cancels {
		if ev.Base.BlockHash == hash {
			delete(r.s.cancels, k)
		}
	}
	return nil
}

type transferRepo struct{ s *Store }

func (r *transferRepo) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := r.s.transfers[key]
	return ok, nil
}

func (r *transferRepo) Save(ctx context.Context, ev *storage.TransferEvent) error {
	c := *ev
	r.s.transfers[ev.Base.IdempotenceKey()] = &c
	return nil
}

func (r *transferRepo) ByBlockHash(
	ctx context.Context,
	hash common.Hash,
) ([]*storage.TransferEvent, error) {
	var out []*storage.TransferEvent
	for _, ev := range r.s.transfers {
		if ev.Base.BlockHash == hash {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Base.LogIndex != out[j].Base.LogIndex {
			return out[i].Base.LogIndex < out[j].Base.LogIndex
		}
		return out[i].Base.BatchIndex < out[j].Base.BatchIndex
	})
	return out, nil
}

func (r *transferRepo) DeleteByBlockHash(ctx context.Context, hash common.Hash) error {
	for k, ev := range r.s.transfers {
		if ev.Base.BlockHash == hash {
			delete(r.s.transfers, k)
		}
	}
	return nil
}

type approvalRepo struct{ s *Store }

func (r *approvalRepo) Upsert(
	ctx context.Context,
	contract, owner, operator common.Address,
	approved bool,
) error {
	key := contract.Hex() + ":" + owner.Hex() + ":" + operator.Hex()
	r.s.approvals[key] = approved
	return nil
}

type blockRepo struct{ s *Store }

func (r *blockRepo) Save(ctx context.Context, block *domain.Block) error {
	c := *block
	r.s.blocks[block.Number] = &c
	return nil
}

func (r *blockRepo) SaveBatch(ctx context.Context, blocks []*domain.Block) error {
	for _, b := range blocks {
		c := *b
		r.s.blocks[b.Number] = &c
	}
	return nil
}

func (r *blockRepo) GetByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	b, ok := r.s.blocks[number]
	if !ok {
		return nil, nil
	}
	c := *b
	return &c, nil
}

func (r *blockRepo) GetLatest(ctx context.Context) (*domain.Block, error) {
	var latest *domain.Block
	for _, b := range r.s.blocks {
		if latest == nil || b.Number > latest.Number {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (r *blockRepo) MarkOrphaned(ctx context.Context, hash common.Hash) error {
	for _, b := range r.s.blocks {
		if b.Hash == hash {
			b.Status = domain.BlockStatusOrphaned
		}
	}
	return nil
}

func (r *blockRepo) DeleteByHash(ctx context.Context, hash common.Hash) error {
	for n, b := range r.s.blocks {
		if b.Hash == hash {
			delete(r.s.blocks, n)
		}
	}
	return nil
}

type watermarkRepo struct{ s *Store }

func (r *watermarkRepo) Get(ctx context.Context, chainID uint64) (*domain.Watermark, error) {
	wm, ok := r.s.watermarks[chainID]
	if !ok {
		return nil, nil
	}
	c := *wm
	return &c, nil
}

func (r *watermarkRepo) Save(ctx context.Context, wm *domain.Watermark) error {
	c := *wm
	r.s.watermarks[wm.ChainID] = &c
	return nil
}

type failedRepo struct{ s *Store }

func (r *failedRepo) Add(ctx context.Context, fr *storage.FailedRange) error {
	c := *fr
	r.s.failed[fr.ID] = &c
	return nil
}

func (r *failedRepo) GetNext(ctx context.Context) (*storage.FailedRange, error) {
	var next *storage.FailedRange
	for _, fr := range r.s.failed {
		if fr.Status != storage.FailedRangePending {
			continue
		}
		if next == nil || fr.CreatedAt < next.CreatedAt {
			next = fr
		}
	}
	if next == nil {
		return nil, nil
	}
	c := *next
	return &c, nil
}

func (r *failedRepo) IncrementRetry(ctx context.Context, id string) error {
	if fr, ok := r.s.failed[id]; ok {
		fr.RetryCount++
	}
	return nil
}

func (r *failedRepo) MarkResolved(ctx context.Context, id string) error {
	if fr, ok := r.s.failed[id]; ok {
		fr.Status = storage.FailedRangeResolved
	}
	return nil
}

func (r *failedRepo) MarkDead(ctx context.Context, id string) error {
	if fr, ok := r.s.failed[id]; ok {
		fr.Status = storage.FailedRangeDead
	}
	return nil
}

func sortByLogIndexFills(evs []*storage.FillEvent) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].Base.LogIndex != evs[j].Base.LogIndex {
			return evs[i].Base.LogIndex < evs[j].Base.LogIndex
		}
		return evs[i].Base.BatchIndex < evs[j].Base.BatchIndex
	})
}
