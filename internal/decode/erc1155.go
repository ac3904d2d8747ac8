package decode

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/indexer/internal/core/domain"
)

var (
	transferSingleTopic = crypto.Keccak256Hash(
		[]byte("TransferSingle(address,address,address,uint256,uint256)"),
	)
	transferBatchTopic = crypto.Keccak256Hash(
		[]byte("TransferBatch(address,address,address,uint256[],uint256[])"),
	)
)

func decodeErc1155TransferSingle(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	return []domain.CanonicalEvent{{
		Kind: domain.EventKindTransfer,
		Base: baseParams(log, txc, 0),
		Transfer: &domain.TransferData{
			Contract: log.Address,
			TokenID:  wordBig(log.Data, 0),
			From:     topicAddr(log.Topics[2]),
			To:       topicAddr(log.Topics[3]),
			Amount:   wordBig(log.Data, 1),
		},
	}}, nil
}

// decodeErc1155TransferBatch fans a batch transfer out into one canonical
// transfer per (id, value) pair; batchIndex keeps the idempotence keys
// distinct within the shared log.
func decodeErc1155TransferBatch(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	idsAt := wordOffset(log.Data, 0)
	valuesAt := wordOffset(log.Data, 1)
	if idsAt < 0 || valuesAt < 0 {
		return nil, fmt.Errorf("malformed TransferBatch data in tx %s", log.TxHash.Hex())
	}

	count := wordBig(log.Data, idsAt)
	valueCount := wordBig(log.Data, valuesAt)
	if !count.IsInt64() || count.Cmp(valueCount) != 0 {
		return nil, fmt.Errorf("TransferBatch id/value length mismatch in tx %s", log.TxHash.Hex())
	}
	// The claimed length must fit the log payload; the registry accepts
	// TransferBatch from any contract, so the data is untrusted.
	if count.Int64() > int64(len(log.Data)/32) {
		return nil, fmt.Errorf("TransferBatch length %s exceeds log data in tx %s", count, log.TxHash.Hex())
	}

	n := int(count.Int64())
	from := topicAddr(log.Topics[2])
	to := topicAddr(log.Topics[3])

	events := make([]domain.CanonicalEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, domain.CanonicalEvent{
			Kind: domain.EventKindTransfer,
			Base: baseParams(log, txc, uint(i)),
			Transfer: &domain.TransferData{
				Contract: log.Address,
				TokenID:  wordBig(log.Data, idsAt+1+i),
				From:     from,
				To:       to,
				Amount:   wordBig(log.Data, valuesAt+1+i),
			},
		})
	}
	return events, nil
}
