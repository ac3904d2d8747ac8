package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NftBalance is a (contract, tokenId, owner) holding. Amount never goes
// below zero; a zero-amount row is logically absent for top-bid purposes.
type NftBalance struct {
	Contract common.Address
	TokenID  *big.Int
	Owner    common.Address
	Amount   *big.Int
}

// ZeroAddress is the mint/burn sentinel.
var ZeroAddress = common.Address{}
