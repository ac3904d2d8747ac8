package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"

	"github.com/openfloor/indexer/internal/core/domain"
)

type orderRepo struct {
	q sqlx.ExtContext
}

type orderRow struct {
	ID                string         `db:"id"`
	Kind              string         `db:"kind"`
	Side              string         `db:"side"`
	Maker             string         `db:"maker"`
	Taker             sql.NullString `db:"taker"`
	Contract          string         `db:"contract"`
	TokenID           sql.NullString `db:"token_id"`
	Currency          string         `db:"currency"`
	Price             sql.NullString `db:"price"`
	NormalizedValue   sql.NullString `db:"normalized_value"`
	FillabilityStatus string         `db:"fillability_status"`
	ApprovalStatus    string         `db:"approval_status"`
	QuantityFilled    sql.NullString `db:"quantity_filled"`
	QuantityRemaining sql.NullString `db:"quantity_remaining"`
	ValidFrom         uint64         `db:"valid_from"`
	ValidUntil        uint64         `db:"valid_until"`
}

func (r orderRow) toDomain() (*domain.Order, error) {
	tokenID, err := bigFromDB(r.TokenID)
	if err != nil {
		return nil, err
	}
	price, err := bigFromDB(r.Price)
	if err != nil {
		return nil, err
	}
	normalized, err := bigFromDB(r.NormalizedValue)
	if err != nil {
		return nil, err
	}
	filled, err := mustBigFromDB(r.QuantityFilled)
	if err != nil {
		return nil, err
	}
	remaining, err := mustBigFromDB(r.QuantityRemaining)
	if err != nil {
		return nil, err
	}
	return &domain.Order{
		ID:                r.ID,
		Kind:              domain.OrderKind(r.Kind),
		Side:              domain.Side(r.Side),
		Maker:             addrFromDB(r.Maker),
		Taker:             addrPtrFromDB(r.Taker),
		Contract:          addrFromDB(r.Contract),
		TokenID:           tokenID,
		Currency:          addrFromDB(r.Currency),
		Price:             price,
		NormalizedValue:   normalized,
		FillabilityStatus: domain.FillabilityStatus(r.FillabilityStatus),
		ApprovalStatus:    domain.ApprovalStatus(r.ApprovalStatus),
		QuantityFilled:    filled,
		QuantityRemaining: remaining,
		ValidFrom:         r.ValidFrom,
		ValidUntil:        r.ValidUntil,
	}, nil
}

func (r *orderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT id, kind, side, maker, taker, contract, token_id, currency,
		       price, normalized_value, fillability_status, approval_status,
		       quantity_filled, quantity_remaining, valid_from, valid_until
		FROM orders WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return row.toDomain()
}

func (r *orderRepo) Save(ctx context.Context, order *domain.Order) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (
			id, kind, side, maker, taker, contract, token_id, currency,
			price, normalized_value, fillability_status, approval_status,
			quantity_filled, quantity_remaining, valid_from, valid_until,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16, now())
		ON CONFLICT (id) DO UPDATE SET
			taker = EXCLUDED.taker,
			price = EXCLUDED.price,
			normalized_value = EXCLUDED.normalized_value,
			fillability_status = EXCLUDED.fillability_status,
			approval_status = EXCLUDED.approval_status,
			quantity_filled = EXCLUDED.quantity_filled,
			quantity_remaining = EXCLUDED.quantity_remaining,
			valid_until = EXCLUDED.valid_until,
			updated_at = now()
	`,
		order.ID,
		string(order.Kind),
		string(order.Side),
		addrToDB(order.Maker),
		addrPtrToDB(order.Taker),
		addrToDB(order.Contract),
		bigToDB(order.TokenID),
		addrToDB(order.Currency),
		bigToDB(order.Price),
		bigToDB(order.NormalizedValue),
		string(order.FillabilityStatus),
		string(order.ApprovalStatus),
		bigToDB(order.QuantityFilled),
		bigToDB(order.QuantityRemaining),
		order.ValidFrom,
		order.ValidUntil,
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	return nil
}

func (r *orderRepo) UpdateApproval(
	ctx context.Context,
	maker, contract common.Address,
	status domain.ApprovalStatus,
) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, r.q, &ids, `
		UPDATE orders SET approval_status = $1, updated_at = now()
		WHERE maker = $2 AND contract = $3 AND approval_status <> $1
		RETURNING id
	`, string(status), addrToDB(maker), addrToDB(contract))
	if err != nil {
		return nil, fmt.Errorf("update approval for %s on %s: %w", maker.Hex(), contract.Hex(), err)
	}
	return ids, nil
}
