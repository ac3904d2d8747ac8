package decode

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/indexer/internal/core/domain"
)

var (
	looksRareTakerAskTopic = crypto.Keccak256Hash([]byte(
		"TakerAsk(bytes32,uint256,address,address,address,address,address,uint256,uint256,uint256)",
	))
	looksRareTakerBidTopic = crypto.Keccak256Hash([]byte(
		"TakerBid(bytes32,uint256,address,address,address,address,address,uint256,uint256,uint256)",
	))
	looksRareCancelMultipleTopic = crypto.Keccak256Hash([]byte(
		"CancelMultipleOrders(address,uint256[])",
	))
)

func registerLooksRare(r *Registry, addrs []common.Address) {
	if len(addrs) == 0 {
		return
	}
	// TakerAsk: a taker hit the maker's bid (buy order filled).
	r.Register(looksRareTakerAskTopic, 4, addrs, looksRareFillDecoder(domain.SideBuy))
	// TakerBid: a taker bought the maker's listing (sell order filled).
	r.Register(looksRareTakerBidTopic, 4, addrs, looksRareFillDecoder(domain.SideSell))
	r.Register(looksRareCancelMultipleTopic, 2, addrs, decodeLooksRareCancelMultiple)
}

// looksRareOrderID derives the canonical order id from maker and nonce;
// the protocol reuses the same hash for re-listed nonces so the event's
// orderHash alone is not stable.
func looksRareOrderID(maker common.Address, nonce string) string {
	return fmt.Sprintf("%s:%s:%s", domain.OrderKindLooksRare, maker.Hex(), nonce)
}

func looksRareFillDecoder(side domain.Side) DecodeFunc {
	return func(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
		data := log.Data
		maker := topicAddr(log.Topics[2])
		taker := topicAddr(log.Topics[1])
		nonce := wordBig(data, 1)

		return []domain.CanonicalEvent{{
			Kind:      domain.EventKindFill,
			OrderKind: domain.OrderKindLooksRare,
			Base:      baseParams(log, txc, 0),
			Fill: &domain.FillData{
				OrderID:   looksRareOrderID(maker, nonce.String()),
				OrderSide: side,
				Maker:     maker,
				Taker:     taker,
				Currency:  wordAddr(data, 2),
				Contract:  wordAddr(data, 3),
				TokenID:   wordBig(data, 4),
				Amount:    wordBig(data, 5),
				Price:     wordBig(data, 6),
			},
		}}, nil
	}
}

func decodeLooksRareCancelMultiple(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	maker := topicAddr(log.Topics[1])
	at := wordOffset(log.Data, 0)
	if at < 0 {
		return nil, fmt.Errorf("malformed CancelMultipleOrders data in tx %s", log.TxHash.Hex())
	}
	count := wordBig(log.Data, at)
	if !count.IsInt64() || count.Int64() > 1024 {
		return nil, fmt.Errorf("bad CancelMultipleOrders nonce count in tx %s", log.TxHash.Hex())
	}

	n := int(count.Int64())
	events := make([]domain.CanonicalEvent, 0, n)
	for i := 0; i < n; i++ {
		nonce := wordBig(log.Data, at+1+i)
		events = append(events, domain.CanonicalEvent{
			Kind:      domain.EventKindCancel,
			OrderKind: domain.OrderKindLooksRare,
			Base:      baseParams(log, txc, uint(i)),
			Cancel: &domain.CancelData{
				OrderID: looksRareOrderID(maker, nonce.String()),
				Maker:   maker,
			},
		})
	}
	return events, nil
}
