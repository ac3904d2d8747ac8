package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"

	"github.com/openfloor/indexer/internal/core/domain"
)

type balanceRepo struct {
	q sqlx.ExtContext
}

type balanceRow struct {
	Contract string         `db:"contract"`
	TokenID  sql.NullString `db:"token_id"`
	Owner    string         `db:"owner"`
	Amount   sql.NullString `db:"amount"`
}

func (r *balanceRepo) Get(
	ctx context.Context,
	contract common.Address,
	tokenID *big.Int,
	owner common.Address,
) (*domain.NftBalance, error) {
	var row balanceRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT contract, token_id, owner, amount
		FROM nft_balances
		WHERE contract = $1 AND token_id = $2 AND owner = $3
	`, addrToDB(contract), bigToDB(tokenID), addrToDB(owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	id, err := mustBigFromDB(row.TokenID)
	if err != nil {
		return nil, err
	}
	amount, err := mustBigFromDB(row.Amount)
	if err != nil {
		return nil, err
	}
	return &domain.NftBalance{
		Contract: addrFromDB(row.Contract),
		TokenID:  id,
		Owner:    addrFromDB(row.Owner),
		Amount:   amount,
	}, nil
}

func (r *balanceRepo) Save(ctx context.Context, balance *domain.NftBalance) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO nft_balances (contract, token_id, owner, amount, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (contract, token_id, owner) DO UPDATE SET
			amount = EXCLUDED.amount,
			updated_at = now()
	`, addrToDB(balance.Contract), bigToDB(balance.TokenID), addrToDB(balance.Owner), bigToDB(balance.Amount))
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}
