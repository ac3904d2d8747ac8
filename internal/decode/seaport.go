package decode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/indexer/internal/core/domain"
)

var (
	seaportOrderFulfilledTopic = crypto.Keccak256Hash([]byte(
		"OrderFulfilled(bytes32,address,address,address,(uint8,address,uint256,uint256)[],(uint8,address,uint256,uint256,address)[])",
	))
	seaportOrderCancelledTopic = crypto.Keccak256Hash([]byte(
		"OrderCancelled(bytes32,address,address)",
	))
)

// Seaport conduit item types.
const (
	seaportItemNative  = 0
	seaportItemERC20   = 1
	seaportItemERC721  = 2
	seaportItemERC1155 = 3
)

func registerSeaport(r *Registry, addrs []common.Address) {
	if len(addrs) == 0 {
		return
	}
	r.Register(seaportOrderFulfilledTopic, 3, addrs, decodeSeaportOrderFulfilled)
	r.Register(seaportOrderCancelledTopic, 3, addrs, decodeSeaportOrderCancelled)
}

type seaportItem struct {
	itemType   int
	token      common.Address
	identifier *big.Int
	amount     *big.Int
}

func (it seaportItem) isNft() bool {
	return it.itemType == seaportItemERC721 || it.itemType == seaportItemERC1155
}

func (it seaportItem) isPayment() bool {
	return it.itemType == seaportItemNative || it.itemType == seaportItemERC20
}

// decodeSeaportOrderFulfilled reads the spent/received item arrays and
// reduces them to one canonical fill. An NFT on the offer side means the
// offerer sold (sell order); an NFT on the consideration side means the
// offerer's bid was accepted (buy order).
func decodeSeaportOrderFulfilled(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	data := log.Data
	orderHash := wordHash(data, 0)
	recipient := wordAddr(data, 1)
	offerer := topicAddr(log.Topics[1])

	offer, err := seaportItems(data, wordOffset(data, 2), 4)
	if err != nil {
		return nil, fmt.Errorf("OrderFulfilled offer in tx %s: %w", log.TxHash.Hex(), err)
	}
	consideration, err := seaportItems(data, wordOffset(data, 3), 5)
	if err != nil {
		return nil, fmt.Errorf("OrderFulfilled consideration in tx %s: %w", log.TxHash.Hex(), err)
	}

	fill := &domain.FillData{
		OrderID: orderHash.Hex(),
		Maker:   offerer,
		Taker:   recipient,
		Price:   new(big.Int),
		Amount:  big.NewInt(1),
	}

	if nft, ok := findNft(offer); ok {
		fill.OrderSide = domain.SideSell
		fill.Contract = nft.token
		fill.TokenID = nft.identifier
		fill.Amount = nft.amount
		sumPayments(fill, consideration)
	} else if nft, ok := findNft(consideration); ok {
		fill.OrderSide = domain.SideBuy
		fill.Contract = nft.token
		fill.TokenID = nft.identifier
		fill.Amount = nft.amount
		sumPayments(fill, offer)
	} else {
		// Currency-for-currency fulfillments are not marketplace trades.
		return nil, nil
	}

	return []domain.CanonicalEvent{{
		Kind:      domain.EventKindFill,
		OrderKind: domain.OrderKindSeaport,
		Base:      baseParams(log, txc, 0),
		Fill:      fill,
	}}, nil
}

func decodeSeaportOrderCancelled(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	return []domain.CanonicalEvent{{
		Kind:      domain.EventKindCancel,
		OrderKind: domain.OrderKindSeaport,
		Base:      baseParams(log, txc, 0),
		Cancel: &domain.CancelData{
			OrderID: wordHash(log.Data, 0).Hex(),
			Maker:   topicAddr(log.Topics[1]),
		},
	}}, nil
}

func seaportItems(data []byte, at, stride int) ([]seaportItem, error) {
	if at < 0 {
		return nil, fmt.Errorf("bad array offset")
	}
	count := wordBig(data, at)
	if !count.IsInt64() || count.Int64() > 64 {
		return nil, fmt.Errorf("bad array length")
	}
	n := int(count.Int64())

	items := make([]seaportItem, 0, n)
	for i := 0; i < n; i++ {
		base := at + 1 + i*stride
		items = append(items, seaportItem{
			itemType:   int(wordBig(data, base).Int64()),
			token:      wordAddr(data, base+1),
			identifier: wordBig(data, base+2),
			amount:     wordBig(data, base+3),
		})
	}
	return items, nil
}

func findNft(items []seaportItem) (seaportItem, bool) {
	for _, it := range items {
		if it.isNft() {
			return it, true
		}
	}
	return seaportItem{}, false
}

// sumPayments totals the payment legs into the fill price. The first
// payment item's token wins as the currency; mixed-currency
// considerations are rare enough that the remainder folds into price.
func sumPayments(fill *domain.FillData, items []seaportItem) {
	first := true
	for _, it := range items {
		if !it.isPayment() {
			continue
		}
		if first {
			fill.Currency = it.token
			first = false
		}
		fill.Price.Add(fill.Price, it.amount)
	}
}
