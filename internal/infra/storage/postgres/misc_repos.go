package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage"
)

type approvalRepo struct {
	q sqlx.ExtContext
}

func (r *approvalRepo) Upsert(
	ctx context.Context,
	contract, owner, operator common.Address,
	approved bool,
) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO approvals (contract, owner, operator, approved, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (contract, owner, operator) DO UPDATE SET
			approved = EXCLUDED.approved,
			updated_at = now()
	`, addrToDB(contract), addrToDB(owner), addrToDB(operator), approved)
	if err != nil {
		return fmt.Errorf("upsert approval: %w", err)
	}
	return nil
}

type watermarkRepo struct {
	q sqlx.ExtContext
}

type watermarkRow struct {
	ChainID   uint64 `db:"chain_id"`
	LastBlock uint64 `db:"last_block"`
	UpdatedAt uint64 `db:"updated_at"`
}

func (r *watermarkRepo) Get(ctx context.Context, chainID uint64) (*domain.Watermark, error) {
	var row watermarkRow
	err := sqlx.GetContext(ctx, r.q, &row,
		"SELECT chain_id, last_block, updated_at FROM sync_watermark WHERE chain_id = $1",
		chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark: %w", err)
	}
	return &domain.Watermark{
		ChainID:   row.ChainID,
		LastBlock: row.LastBlock,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (r *watermarkRepo) Save(ctx context.Context, wm *domain.Watermark) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sync_watermark (chain_id, last_block, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain_id) DO UPDATE SET
			last_block = EXCLUDED.last_block,
			updated_at = EXCLUDED.updated_at
	`, wm.ChainID, wm.LastBlock, wm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}

type failedRangeRepo struct {
	q sqlx.ExtContext
}

type failedRangeRow struct {
	ID          string `db:"id"`
	FromBlock   uint64 `db:"from_block"`
	ToBlock     uint64 `db:"to_block"`
	Error       string `db:"error"`
	RetryCount  int    `db:"retry_count"`
	Status      string `db:"status"`
	LastAttempt uint64 `db:"last_attempt"`
	CreatedAt   uint64 `db:"created_at"`
}

func (r *failedRangeRepo) Add(ctx context.Context, fr *storage.FailedRange) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO failed_ranges (id, from_block, to_block, error, retry_count, status, last_attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, fr.ID, fr.FromBlock, fr.ToBlock, fr.Error, fr.RetryCount,
		string(fr.Status), fr.LastAttempt, fr.CreatedAt)
	if err != nil {
		return fmt.Errorf("add failed range %d-%d: %w", fr.FromBlock, fr.ToBlock, err)
	}
	return nil
}

func (r *failedRangeRepo) GetNext(ctx context.Context) (*storage.FailedRange, error) {
	var row failedRangeRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT id, from_block, to_block, error, retry_count, status, last_attempt, created_at
		FROM failed_ranges
		WHERE status = $1
		ORDER BY created_at
		LIMIT 1
	`, string(storage.FailedRangePending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next failed range: %w", err)
	}
	return &storage.FailedRange{
		ID:          row.ID,
		FromBlock:   row.FromBlock,
		ToBlock:     row.ToBlock,
		Error:       row.Error,
		RetryCount:  row.RetryCount,
		Status:      storage.FailedRangeStatus(row.Status),
		LastAttempt: row.LastAttempt,
		CreatedAt:   row.CreatedAt,
	}, nil
}

func (r *failedRangeRepo) IncrementRetry(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE failed_ranges SET retry_count = retry_count + 1, last_attempt = $2 WHERE id = $1",
		id, uint64(time.Now().Unix()))
	if err != nil {
		return fmt.Errorf("increment retry %s: %w", id, err)
	}
	return nil
}

func (r *failedRangeRepo) MarkResolved(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, storage.FailedRangeResolved)
}

func (r *failedRangeRepo) MarkDead(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, storage.FailedRangeDead)
}

func (r *failedRangeRepo) setStatus(ctx context.Context, id string, status storage.FailedRangeStatus) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE failed_ranges SET status = $2 WHERE id = $1", id, string(status))
	if err != nil {
		return fmt.Errorf("set failed range %s to %s: %w", id, status, err)
	}
	return nil
}
