package decode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/indexer/internal/core/domain"
)

var (
	wyvernOrdersMatchedTopic = crypto.Keccak256Hash([]byte(
		"OrdersMatched(bytes32,bytes32,address,address,uint256,bytes32)",
	))
	wyvernOrderCancelledTopic = crypto.Keccak256Hash([]byte(
		"OrderCancelled(bytes32)",
	))
)

func registerWyvern(r *Registry, addrs []common.Address) {
	if len(addrs) == 0 {
		return
	}
	r.Register(wyvernOrdersMatchedTopic, 4, addrs, decodeWyvernOrdersMatched)
	r.Register(wyvernOrderCancelledTopic, 2, addrs, decodeWyvernOrderCancelled)
}

// decodeWyvernOrdersMatched yields up to two fills from one log (the buy
// and sell hashes of the match), distinguished by batchIndex. Wyvern logs
// carry no token identity; the paired transfer event supplies balances.
func decodeWyvernOrdersMatched(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	buyHash := wordHash(log.Data, 0)
	sellHash := wordHash(log.Data, 1)
	price := wordBig(log.Data, 2)
	maker := topicAddr(log.Topics[1])
	taker := topicAddr(log.Topics[2])

	var events []domain.CanonicalEvent
	batch := uint(0)
	if sellHash != (common.Hash{}) {
		events = append(events, domain.CanonicalEvent{
			Kind:      domain.EventKindFill,
			OrderKind: domain.OrderKindWyvern,
			Base:      baseParams(log, txc, batch),
			Fill: &domain.FillData{
				OrderID:   sellHash.Hex(),
				OrderSide: domain.SideSell,
				Maker:     maker,
				Taker:     taker,
				Amount:    big.NewInt(1),
				Price:     price,
			},
		})
		batch++
	}
	if buyHash != (common.Hash{}) {
		events = append(events, domain.CanonicalEvent{
			Kind:      domain.EventKindFill,
			OrderKind: domain.OrderKindWyvern,
			Base:      baseParams(log, txc, batch),
			Fill: &domain.FillData{
				OrderID:   buyHash.Hex(),
				OrderSide: domain.SideBuy,
				Maker:     taker,
				Taker:     maker,
				Amount:    big.NewInt(1),
				Price:     price,
			},
		})
	}
	return events, nil
}

func decodeWyvernOrderCancelled(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	return []domain.CanonicalEvent{{
		Kind:      domain.EventKindCancel,
		OrderKind: domain.OrderKindWyvern,
		Base:      baseParams(log, txc, 0),
		Cancel: &domain.CancelData{
			OrderID: log.Topics[1].Hex(),
		},
	}}, nil
}
