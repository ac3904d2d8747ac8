package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/rpc"
)

// royaltyInfo(uint256,uint256) selector.
var royaltyInfoSelector = crypto.Keccak256([]byte("royaltyInfo(uint256,uint256)"))[:4]

// royaltyBasisPrice is the synthetic sale price passed to royaltyInfo so
// the returned amount converts directly to basis points.
var royaltyBasisPrice = big.NewInt(10_000)

// Eip2981Registry resolves royalties through the on-chain EIP-2981
// royaltyInfo call. Collections without the interface resolve to no
// royalties rather than an error.
type Eip2981Registry struct {
	client rpc.Client
}

func NewEip2981Registry(client rpc.Client) *Eip2981Registry {
	return &Eip2981Registry{client: client}
}

func (r *Eip2981Registry) RoyaltiesFor(
	ctx context.Context,
	contract common.Address,
	tokenID *big.Int,
) ([]domain.Royalty, error) {
	data := make([]byte, 0, 4+64)
	data = append(data, royaltyInfoSelector...)
	data = append(data, common.BigToHash(tokenID).Bytes()...)
	data = append(data, common.BigToHash(royaltyBasisPrice).Bytes()...)

	raw, err := r.client.Call(ctx, "eth_call", map[string]any{
		"to":   contract.Hex(),
		"data": hexutil.Encode(data),
	}, "latest")
	if err != nil {
		// Reverts mean the collection does not implement EIP-2981.
		return []domain.Royalty{}, nil
	}

	var hexResult string
	if err := json.Unmarshal(raw, &hexResult); err != nil {
		return nil, fmt.Errorf("parse royaltyInfo result: %w", err)
	}
	result, err := hexutil.Decode(hexResult)
	if err != nil || len(result) < 64 {
		return []domain.Royalty{}, nil
	}

	recipient := common.BytesToAddress(result[12:32])
	amount := new(big.Int).SetBytes(result[32:64])
	if recipient == (common.Address{}) || amount.Sign() == 0 {
		return []domain.Royalty{}, nil
	}
	if !amount.IsInt64() || amount.Int64() > 10_000 {
		return []domain.Royalty{}, nil
	}

	return []domain.Royalty{{Recipient: recipient, Bps: int(amount.Int64())}}, nil
}
