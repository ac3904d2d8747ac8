package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openfloor/indexer/internal/core/domain"
)

type blockRepo struct {
	q sqlx.ExtContext
}

type blockRow struct {
	Number     uint64 `db:"block_number"`
	Hash       string `db:"block_hash"`
	ParentHash string `db:"parent_hash"`
	Timestamp  uint64 `db:"block_timestamp"`
	Status     string `db:"status"`
}

func (r blockRow) toDomain() *domain.Block {
	return &domain.Block{
		Number:     r.Number,
		Hash:       hashFromDB(r.Hash),
		ParentHash: hashFromDB(r.ParentHash),
		Timestamp:  r.Timestamp,
		Status:     domain.BlockStatus(r.Status),
	}
}

func (r *blockRepo) Save(ctx context.Context, block *domain.Block) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO blocks (block_number, block_hash, parent_hash, block_timestamp, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (block_number, block_hash) DO UPDATE SET
			status = EXCLUDED.status
	`, block.Number, hashToDB(block.Hash), hashToDB(block.ParentHash),
		block.Timestamp, string(block.Status))
	if err != nil {
		return fmt.Errorf("save block %d: %w", block.Number, err)
	}
	return nil
}

// SaveBatch upserts a whole fetched range in one round trip via unnest.
func (r *blockRepo) SaveBatch(ctx context.Context, blocks []*domain.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	numbers := make([]int64, len(blocks))
	hashes := make([]string, len(blocks))
	parents := make([]string, len(blocks))
	timestamps := make([]int64, len(blocks))
	statuses := make([]string, len(blocks))
	for i, b := range blocks {
		numbers[i] = int64(b.Number)
		hashes[i] = hashToDB(b.Hash)
		parents[i] = hashToDB(b.ParentHash)
		timestamps[i] = int64(b.Timestamp)
		statuses[i] = string(b.Status)
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO blocks (block_number, block_hash, parent_hash, block_timestamp, status)
		SELECT * FROM unnest($1::bigint[], $2::text[], $3::text[], $4::bigint[], $5::text[])
		ON CONFLICT (block_number, block_hash) DO UPDATE SET
			status = EXCLUDED.status
	`, pq.Array(numbers), pq.Array(hashes), pq.Array(parents),
		pq.Array(timestamps), pq.Array(statuses))
	if err != nil {
		return fmt.Errorf("save %d blocks: %w", len(blocks), err)
	}
	return nil
}

// GetByNumber returns the canonical (non-orphaned) block at a height.
func (r *blockRepo) GetByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	var row blockRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT block_number, block_hash, parent_hash, block_timestamp, status
		FROM blocks
		WHERE block_number = $1 AND status <> $2
		LIMIT 1
	`, number, string(domain.BlockStatusOrphaned))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", number, err)
	}
	return row.toDomain(), nil
}

func (r *blockRepo) GetLatest(ctx context.Context) (*domain.Block, error) {
	var row blockRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT block_number, block_hash, parent_hash, block_timestamp, status
		FROM blocks
		WHERE status <> $1
		ORDER BY block_number DESC
		LIMIT 1
	`, string(domain.BlockStatusOrphaned))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest block: %w", err)
	}
	return row.toDomain(), nil
}

func (r *blockRepo) MarkOrphaned(ctx context.Context, hash common.Hash) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE blocks SET status = $1 WHERE block_hash = $2",
		string(domain.BlockStatusOrphaned), hashToDB(hash))
	if err != nil {
		return fmt.Errorf("mark block %s orphaned: %w", hash.Hex(), err)
	}
	return nil
}

func (r *blockRepo) DeleteByHash(ctx context.Context, hash common.Hash) error {
	_, err := r.q.ExecContext(ctx,
		"DELETE FROM blocks WHERE block_hash = $1", hashToDB(hash))
	if err != nil {
		return fmt.Errorf("delete block %s: %w", hash.Hex(), err)
	}
	return nil
}
