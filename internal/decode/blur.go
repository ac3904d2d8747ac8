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
	blurOrdersMatchedTopic = crypto.Keccak256Hash([]byte(
		"OrdersMatched(address,address,(address,uint8,address,address,uint256,uint256,address,uint256,uint256,uint256,(uint16,address)[],uint256,bytes),bytes32,(address,uint8,address,address,uint256,uint256,address,uint256,uint256,uint256,(uint16,address)[],uint256,bytes),bytes32)",
	))
	blurOrderCancelledTopic = crypto.Keccak256Hash([]byte(
		"OrderCancelled(bytes32)",
	))
)

// Blur Order.side enum.
const blurSideSell = 1

func registerBlur(r *Registry, addrs []common.Address) {
	if len(addrs) == 0 {
		return
	}
	r.Register(blurOrdersMatchedTopic, 3, addrs, decodeBlurOrdersMatched)
	r.Register(blurOrderCancelledTopic, 2, addrs, decodeBlurOrderCancelled)
}

// blurOrder is the fixed-slot head of Blur's Order struct as laid out in
// OrdersMatched data. The fee array and extraParams tails are skipped.
type blurOrder struct {
	trader     common.Address
	side       int
	collection common.Address
	tokenID    *big.Int
	amount     *big.Int
	payment    common.Address
	price      *big.Int
}

func readBlurOrder(data []byte, at int) (blurOrder, error) {
	if at < 0 {
		return blurOrder{}, fmt.Errorf("bad order offset")
	}
	return blurOrder{
		trader:     wordAddr(data, at),
		side:       int(wordBig(data, at+1).Int64()),
		collection: wordAddr(data, at+3),
		tokenID:    wordBig(data, at+4),
		amount:     wordBig(data, at+5),
		payment:    wordAddr(data, at+6),
		price:      wordBig(data, at+7),
	}, nil
}

// decodeBlurOrdersMatched emits one fill keyed by the sell-order hash.
// Both sides of the match are present in the data; the sell side carries
// the asset and the price, which is all the canonical fill needs.
func decodeBlurOrdersMatched(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	data := log.Data
	maker := topicAddr(log.Topics[1])
	taker := topicAddr(log.Topics[2])

	sell, err := readBlurOrder(data, wordOffset(data, 0))
	if err != nil {
		return nil, fmt.Errorf("OrdersMatched sell order in tx %s: %w", log.TxHash.Hex(), err)
	}
	sellHash := wordHash(data, 1)

	side := domain.SideBuy
	if sell.side == blurSideSell {
		side = domain.SideSell
	}

	return []domain.CanonicalEvent{{
		Kind:      domain.EventKindFill,
		OrderKind: domain.OrderKindBlur,
		Base:      baseParams(log, txc, 0),
		Fill: &domain.FillData{
			OrderID:   sellHash.Hex(),
			OrderSide: side,
			Maker:     maker,
			Taker:     taker,
			Contract:  sell.collection,
			TokenID:   sell.tokenID,
			Amount:    sell.amount,
			Currency:  sell.payment,
			Price:     sell.price,
		},
	}}, nil
}

func decodeBlurOrderCancelled(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	return []domain.CanonicalEvent{{
		Kind:      domain.EventKindCancel,
		OrderKind: domain.OrderKindBlur,
		Base:      baseParams(log, txc, 0),
		Cancel: &domain.CancelData{
			OrderID: log.Topics[1].Hex(),
		},
	}}, nil
}
