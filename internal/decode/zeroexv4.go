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
	zeroExErc721FilledTopic = crypto.Keccak256Hash([]byte(
		"ERC721OrderFilled(uint8,address,address,uint256,address,uint256,address,uint256,address)",
	))
	zeroExErc721CancelledTopic = crypto.Keccak256Hash([]byte(
		"ERC721OrderCancelled(address,uint256)",
	))
	zeroExErc1155FilledTopic = crypto.Keccak256Hash([]byte(
		"ERC1155OrderFilled(uint8,address,address,uint256,address,uint256,address,uint256,uint128,address)",
	))
	zeroExErc1155CancelledTopic = crypto.Keccak256Hash([]byte(
		"ERC1155OrderCancelled(address,uint256)",
	))
)

// 0x v4 TradeDirection: 0 = maker sells the NFT, 1 = maker buys it.
const zeroExDirectionSell = 0

func registerZeroExV4(r *Registry, addrs []common.Address) {
	if len(addrs) == 0 {
		return
	}
	r.Register(zeroExErc721FilledTopic, 1, addrs, zeroExFillDecoder(false))
	r.Register(zeroExErc1155FilledTopic, 1, addrs, zeroExFillDecoder(true))
	r.Register(zeroExErc721CancelledTopic, 1, addrs, decodeZeroExCancel)
	r.Register(zeroExErc1155CancelledTopic, 1, addrs, decodeZeroExCancel)
}

// zeroExOrderID mirrors the protocol's identity: 0x v4 orders are keyed
// by maker and nonce, not a hash.
func zeroExOrderID(maker common.Address, nonce *big.Int) string {
	return fmt.Sprintf("%s:%s:%s", domain.OrderKindZeroExV4, maker.Hex(), nonce.String())
}

func zeroExFillDecoder(erc1155 bool) DecodeFunc {
	return func(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
		data := log.Data
		direction := wordBig(data, 0)
		maker := wordAddr(data, 1)
		taker := wordAddr(data, 2)
		nonce := wordBig(data, 3)

		side := domain.SideBuy
		if direction.IsInt64() && direction.Int64() == zeroExDirectionSell {
			side = domain.SideSell
		}

		amount := big.NewInt(1)
		if erc1155 {
			amount = wordBig(data, 8)
		}

		return []domain.CanonicalEvent{{
			Kind:      domain.EventKindFill,
			OrderKind: domain.OrderKindZeroExV4,
			Base:      baseParams(log, txc, 0),
			Fill: &domain.FillData{
				OrderID:   zeroExOrderID(maker, nonce),
				OrderSide: side,
				Maker:     maker,
				Taker:     taker,
				Currency:  wordAddr(data, 4),
				Price:     wordBig(data, 5),
				Contract:  wordAddr(data, 6),
				TokenID:   wordBig(data, 7),
				Amount:    amount,
			},
		}}, nil
	}
}

func decodeZeroExCancel(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	maker := wordAddr(log.Data, 0)
	nonce := wordBig(log.Data, 1)
	return []domain.CanonicalEvent{{
		Kind:      domain.EventKindCancel,
		OrderKind: domain.OrderKindZeroExV4,
		Base:      baseParams(log, txc, 0),
		Cancel: &domain.CancelData{
			OrderID: zeroExOrderID(maker, nonce),
			Maker:   maker,
		},
	}}, nil
}
