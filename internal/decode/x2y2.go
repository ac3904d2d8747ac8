package decode

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/indexer/internal/core/domain"
)

var (
	x2y2InventoryTopic = crypto.Keccak256Hash([]byte(
		"EvInventory(bytes32,address,address,uint256,uint256,uint256,uint256,uint256,address,bytes,(uint256,bytes),(uint8,uint256,uint256,(uint256,uint256)[],bytes))",
	))
	x2y2CancelTopic = crypto.Keccak256Hash([]byte(
		"EvCancel(bytes32)",
	))
)

// X2Y2 op codes from the Market contract.
const (
	x2y2OpSell = 1
	x2y2OpBuy  = 2
)

func registerX2Y2(r *Registry, addrs []common.Address) {
	if len(addrs) == 0 {
		return
	}
	r.Register(x2y2InventoryTopic, 2, addrs, decodeX2Y2Inventory)
	r.Register(x2y2CancelTopic, 2, addrs, decodeX2Y2Cancel)
}

// decodeX2Y2Inventory reads the flat head words of EvInventory. The
// traded token lives inside the SettleDetail's nested data blob which we
// leave to the paired transfer event; the fill carries the economics.
func decodeX2Y2Inventory(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	data := log.Data
	maker := wordAddr(data, 0)
	taker := wordAddr(data, 1)
	currency := wordAddr(data, 8)

	side := domain.SideSell
	itemAt := wordOffset(data, 10)
	if itemAt >= 0 {
		if op := wordBig(data, itemAt); op.IsInt64() && op.Int64() == x2y2OpBuy {
			side = domain.SideBuy
		}
	}

	var price = wordBig(data, 5)
	if itemAt >= 0 {
		price = wordBig(data, itemAt+1)
	}

	return []domain.CanonicalEvent{{
		Kind:      domain.EventKindFill,
		OrderKind: domain.OrderKindX2Y2,
		Base:      baseParams(log, txc, 0),
		Fill: &domain.FillData{
			OrderID:   log.Topics[1].Hex(),
			OrderSide: side,
			Maker:     maker,
			Taker:     taker,
			Currency:  currency,
			Price:     price,
		},
	}}, nil
}

func decodeX2Y2Cancel(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	return []domain.CanonicalEvent{{
		Kind:      domain.EventKindCancel,
		OrderKind: domain.OrderKindX2Y2,
		Base:      baseParams(log, txc, 0),
		Cancel: &domain.CancelData{
			OrderID: log.Topics[1].Hex(),
		},
	}}, nil
}
