package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind tags the variant carried by a CanonicalEvent.
type EventKind string

const (
	EventKindFill         EventKind = "fill"
	EventKindCancel       EventKind = "cancel"
	EventKindTransfer     EventKind = "transfer"
	EventKindApproval     EventKind = "approval"
	EventKindOrderCreated EventKind = "order-created"
)

// BaseEventParams are shared by every canonical event. The tuple
// (TxHash, LogIndex, BatchIndex) is the global idempotence key: no two
// stored fill/cancel rows may share it.
type BaseEventParams struct {
	Address    common.Address
	TxHash     common.Hash
	BlockHash  common.Hash
	Block      uint64
	LogIndex   uint
	BatchIndex uint
	Timestamp  uint64
}

// IdempotenceKey identifies one logical on-chain event. BatchIndex
// disambiguates multiple logical events decoded from a single log
// (bundle fills, ERC-1155 batch transfers).
func (b BaseEventParams) IdempotenceKey() string {
	return fmt.Sprintf("%s:%d:%d", b.TxHash.Hex(), b.LogIndex, b.BatchIndex)
}

// FillData describes a completed (partial or full) trade against an order.
type FillData struct {
	OrderID   string
	OrderSide Side
	Maker     common.Address
	Taker     common.Address
	Contract  common.Address
	TokenID   *big.Int
	Amount    *big.Int
	Currency  common.Address
	Price     *big.Int

	// Enrichment, filled by the aggregator. Nil when the corresponding
	// collaborator was unavailable; a retry job repairs these async.
	USDPrice    *float64
	NativePrice *float64
	Royalties   []Royalty
	Attribution *Attribution
	WashScore   *float64
}

// Royalty is one recipient's share of a fill, in basis points.
type Royalty struct {
	Recipient common.Address
	Bps       int
}

// Attribution identifies who routed and filled an order.
type Attribution struct {
	Taker            *common.Address
	OrderSource      string
	FillSource       string
	AggregatorSource string
}

// CancelData describes an on-chain cancellation of an order.
type CancelData struct {
	OrderID string
	Maker   common.Address
}

// TransferData describes an NFT ownership change. From equal to the zero
// address is a mint and must not decrement any balance.
type TransferData struct {
	Contract common.Address
	TokenID  *big.Int
	From     common.Address
	To       common.Address
	Amount   *big.Int
}

// ApprovalData describes an operator approval change for a collection.
type ApprovalData struct {
	Contract common.Address
	Owner    common.Address
	Operator common.Address
	Approved bool
}

// OrderCreatedData is emitted by protocols that announce orders on-chain.
type OrderCreatedData struct {
	OrderID  string
	Side     Side
	Maker    common.Address
	Contract common.Address
	TokenID  *big.Int
	Currency common.Address
	Price    *big.Int
	Quantity *big.Int
}

// CanonicalEvent is the tagged union produced by the decoder registry.
// Exactly one payload pointer is set, matching Kind.
type CanonicalEvent struct {
	Kind      EventKind
	OrderKind OrderKind
	Base      BaseEventParams

	Fill         *FillData
	Cancel       *CancelData
	Transfer     *TransferData
	Approval     *ApprovalData
	OrderCreated *OrderCreatedData
}

// OnChainDelta is one block range's worth of canonical events, ordered by
// (Block, LogIndex, BatchIndex) ascending and deduplicated by idempotence
// key. This ordering is the single source of truth for "most recent state
// wins" resolution in the reconciler.
type OnChainDelta struct {
	Events []CanonicalEvent

	// NeedsEnrichment lists idempotence keys of fills applied with
	// enrichment fields left nil, to be repaired by the retry queue.
	NeedsEnrichment []string
}
