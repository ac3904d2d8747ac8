package postgres

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Numeric columns travel as strings; NUMERIC precision exceeds every
// native Go integer.

func bigToDB(b *big.Int) any {
	if b == nil {
		return nil
	}
	return b.String()
}

func bigFromDB(s sql.NullString) (*big.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	b, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s.String)
	}
	return b, nil
}

func mustBigFromDB(s sql.NullString) (*big.Int, error) {
	b, err := bigFromDB(s)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = new(big.Int)
	}
	return b, nil
}

func addrToDB(a common.Address) string {
	return a.Hex()
}

func addrFromDB(s string) common.Address {
	return common.HexToAddress(s)
}

func addrPtrToDB(a *common.Address) any {
	if a == nil {
		return nil
	}
	return a.Hex()
}

func addrPtrFromDB(s sql.NullString) *common.Address {
	if !s.Valid || s.String == "" {
		return nil
	}
	a := common.HexToAddress(s.String)
	return &a
}

func hashToDB(h common.Hash) string {
	return h.Hex()
}

func hashFromDB(s string) common.Hash {
	return common.HexToHash(s)
}
