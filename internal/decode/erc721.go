package decode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/indexer/internal/core/domain"
)

var (
	// Transfer(address,address,uint256). Shared with ERC-20; the
	// four-topic form (tokenId indexed) is the ERC-721 variant.
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	// ApprovalForAll(address,address,bool). Identical signature on
	// ERC-721 and ERC-1155.
	approvalForAllTopic = crypto.Keccak256Hash([]byte("ApprovalForAll(address,address,bool)"))
)

func registerNftTransfers(r *Registry) {
	r.Register(transferTopic, 4, nil, decodeErc721Transfer)
	r.Register(approvalForAllTopic, 3, nil, decodeApprovalForAll)
	r.Register(transferSingleTopic, 4, nil, decodeErc1155TransferSingle)
	r.Register(transferBatchTopic, 4, nil, decodeErc1155TransferBatch)
}

func decodeErc721Transfer(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	return []domain.CanonicalEvent{{
		Kind: domain.EventKindTransfer,
		Base: baseParams(log, txc, 0),
		Transfer: &domain.TransferData{
			Contract: log.Address,
			TokenID:  topicBig(log.Topics[3]),
			From:     topicAddr(log.Topics[1]),
			To:       topicAddr(log.Topics[2]),
			Amount:   big.NewInt(1),
		},
	}}, nil
}

func decodeApprovalForAll(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	return []domain.CanonicalEvent{{
		Kind: domain.EventKindApproval,
		Base: baseParams(log, txc, 0),
		Approval: &domain.ApprovalData{
			Contract: log.Address,
			Owner:    topicAddr(log.Topics[1]),
			Operator: topicAddr(log.Topics[2]),
			Approved: wordBool(log.Data, 0),
		},
	}}, nil
}
