package storage

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/core/domain"
)

// FillEvent is the persisted raw fill, kept for audit, replay and reorg
// reversal. EffectiveAmount is the quantity actually applied to the order
// after capping at the remaining quantity; reversal subtracts exactly this.
type FillEvent struct {
	Base            domain.BaseEventParams
	OrderKind       domain.OrderKind
	Data            domain.FillData
	EffectiveAmount *big.Int
	NeedsEnrichment bool
}

// CancelEvent is the persisted raw cancel. PrevStatus records the order's
// fillability before the cancel applied so reversal restores it exactly.
type CancelEvent struct {
	Base       domain.BaseEventParams
	OrderKind  domain.OrderKind
	Data       domain.CancelData
	PrevStatus domain.FillabilityStatus
	Applied    bool
}

// TransferEvent is the persisted raw NFT transfer.
type TransferEvent struct {
	Base domain.BaseEventParams
	Data domain.TransferData
}

// FailedRangeStatus tracks retry state for a block range that hit a
// data-inconsistency error.
type FailedRangeStatus string

const (
	FailedRangePending  FailedRangeStatus = "pending"
	FailedRangeResolved FailedRangeStatus = "resolved"
	FailedRangeDead     FailedRangeStatus = "dead"
)

// FailedRange is a block range whose processing failed and is retried on
// later ticks rather than being silently dropped.
type FailedRange struct {
	ID          string
	FromBlock   uint64
	ToBlock     uint64
	Error       string
	RetryCount  int
	Status      FailedRangeStatus
	LastAttempt uint64
	CreatedAt   uint64
}

type OrderRepository interface {
	// Get returns nil, nil when the order is unknown.
	Get(ctx context.Context, id string) (*domain.Order, error)
	Save(ctx context.Context, order *domain.Order) error
	// UpdateApproval flips approval status on every order of the maker
	// for the given contract. Returns the affected order ids.
	UpdateApproval(ctx context.Context, maker, contract common.Address, status domain.ApprovalStatus) ([]string, error)
}

type BalanceRepository interface {
	// Get returns nil, nil when no row exists.
	Get(ctx context.Context, contract common.Address, tokenID *big.Int, owner common.Address) (*domain.NftBalance, error)
	Save(ctx context.Context, balance *domain.NftBalance) error
}

type FillEventRepository interface {
	Exists(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, ev *FillEvent) error
	// ByBlockHash returns fills of one block hash ordered by
	// (logIndex, batchIndex) ascending.
	ByBlockHash(ctx context.Context, hash common.Hash) ([]*FillEvent, error)
	DeleteByBlockHash(ctx context.Context, hash common.Hash) error
	UpdateEnrichment(ctx context.Context, key string, ev *FillEvent) error
	PendingEnrichment(ctx context.Context, limit int) ([]*FillEvent, error)
}

type CancelEventRepository interface {
	Exists(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, ev *CancelEvent) error
	ByBlockHash(ctx context.Context, hash common.Hash) ([]*CancelEvent, error)
	DeleteByBlockHash(ctx context.Context, hash common.Hash) error
}

type TransferEventRepository interface {
	Exists(ctx context.Context, key string) (bool, error)
	Save(ctx context.Context, ev *TransferEvent) error
	ByBlockHash(ctx context.Context, hash common.Hash) ([]*TransferEvent, error)
	DeleteByBlockHash(ctx context.Context, hash common.Hash) error
}

type ApprovalRepository interface {
	Upsert(ctx context.Context, contract, owner, operator common.Address, approved bool) error
}

type BlockRepository interface {
	Save(ctx context.Context, block *domain.Block) error
	// SaveBatch upserts a fetched range's headers in one statement.
	SaveBatch(ctx context.Context, blocks []*domain.Block) error
	// GetByNumber returns nil, nil when the block is unknown locally.
	GetByNumber(ctx context.Context, number uint64) (*domain.Block, error)
	GetLatest(ctx context.Context) (*domain.Block, error)
	MarkOrphaned(ctx context.Context, hash common.Hash) error
	DeleteByHash(ctx context.Context, hash common.Hash) error
}

type WatermarkRepository interface {
	// Get returns nil, nil when no watermark has been persisted yet.
	Get(ctx context.Context, chainID uint64) (*domain.Watermark, error)
	Save(ctx context.Context, wm *domain.Watermark) error
}

type FailedRangeRepository interface {
	Add(ctx context.Context, fr *FailedRange) error
	GetNext(ctx context.Context) (*FailedRange, error)
	IncrementRetry(ctx context.Context, id string) error
	MarkResolved(ctx context.Context, id string) error
	MarkDead(ctx context.Context, id string) error
}

// Repos groups every repository. Both the plain store and an open
// transaction expose the same surface.
type Repos interface {
	Orders() OrderRepository
	Balances() BalanceRepository
	FillEvents() FillEventRepository
	CancelEvents() CancelEventRepository
	TransferEvents() TransferEventRepository
	Approvals() ApprovalRepository
	Blocks() BlockRepository
	Watermarks() WatermarkRepository
	FailedRanges() FailedRangeRepository
}

// Store is the persistent backend. RunInTx executes fn within one
// database transaction; the reconciler opens one per entity transition,
// so transactions stay short and run to completion or full rollback.
type Store interface {
	Repos
	RunInTx(ctx context.Context, fn func(tx Repos) error) error
}
