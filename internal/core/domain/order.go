package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderKind identifies the marketplace protocol an order belongs to.
type OrderKind string

const (
	OrderKindSeaport   OrderKind = "seaport-v1.5"
	OrderKindWyvern    OrderKind = "wyvern-v2.3"
	OrderKindLooksRare OrderKind = "looks-rare"
	OrderKindX2Y2      OrderKind = "x2y2"
	OrderKindZeroExV4  OrderKind = "zeroex-v4"
	OrderKindBlur      OrderKind = "blur"
)

// Side is the order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// FillabilityStatus is the lifecycle state of an order with respect to
// whether it can still be matched. Transitions are one-directional except
// no-balance <-> fillable, which toggles on live balance checks. Filled
// is terminal and wins over a later-observed cancel.
type FillabilityStatus string

const (
	FillabilityFillable  FillabilityStatus = "fillable"
	FillabilityFilled    FillabilityStatus = "filled"
	FillabilityCancelled FillabilityStatus = "cancelled"
	FillabilityExpired   FillabilityStatus = "expired"
	FillabilityNoBalance FillabilityStatus = "no-balance"
)

// ApprovalStatus tracks whether the maker's operator approval is live.
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDisabled ApprovalStatus = "disabled"
)

// Order is the reconciled aggregate. ID is the protocol-specific order
// hash. Orders are mutated exclusively by the reconciler.
type Order struct {
	ID                string
	Kind              OrderKind
	Side              Side
	Maker             common.Address
	Taker             *common.Address
	Contract          common.Address
	TokenID           *big.Int
	Currency          common.Address
	Price             *big.Int
	NormalizedValue   *big.Int
	FillabilityStatus FillabilityStatus
	ApprovalStatus    ApprovalStatus
	QuantityFilled    *big.Int
	QuantityRemaining *big.Int
	ValidFrom         uint64
	ValidUntil        uint64
}

// Terminal reports whether the order can never become fillable again.
func (o *Order) Terminal() bool {
	return o.FillabilityStatus == FillabilityFilled ||
		o.FillabilityStatus == FillabilityCancelled
}
