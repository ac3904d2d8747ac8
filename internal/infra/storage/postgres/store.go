package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openfloor/indexer/internal/infra/storage"
)

// Store implements storage.Store. Repositories are bound to either the
// pool or an open transaction through sqlx.ExtContext, so the same
// implementations serve both paths.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Orders() storage.OrderRepository            { return &orderRepo{q: s.db} }
func (s *Store) Balances() storage.BalanceRepository        { return &balanceRepo{q: s.db} }
func (s *Store) FillEvents() storage.FillEventRepository    { return &fillRepo{q: s.db} }
func (s *Store) CancelEvents() storage.CancelEventRepository {
	return &cancelRepo{q: s.db}
}
func (s *Store) TransferEvents() storage.TransferEventRepository {
	return &transferRepo{q: s.db}
}
func (s *Store) Approvals() storage.ApprovalRepository      { return &approvalRepo{q: s.db} }
func (s *Store) Blocks() storage.BlockRepository            { return &blockRepo{q: s.db} }
func (s *Store) Watermarks() storage.WatermarkRepository    { return &watermarkRepo{q: s.db} }
func (s *Store) FailedRanges() storage.FailedRangeRepository {
	return &failedRangeRepo{q: s.db}
}

// RunInTx runs fn inside one database transaction. Commit on nil,
// rollback otherwise.
func (s *Store) RunInTx(ctx context.Context, fn func(tx storage.Repos) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(txRepos{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txRepos struct {
	q sqlx.ExtContext
}

func (v txRepos) Orders() storage.OrderRepository             { return &orderRepo{q: v.q} }
func (v txRepos) Balances() storage.BalanceRepository         { return &balanceRepo{q: v.q} }
func (v txRepos) FillEvents() storage.FillEventRepository     { return &fillRepo{q: v.q} }
func (v txRepos) CancelEvents() storage.CancelEventRepository { return &cancelRepo{q: v.q} }
func (v txRepos) TransferEvents() storage.TransferEventRepository {
	return &transferRepo{q: v.q}
}
func (v txRepos) Approvals() storage.ApprovalRepository       { return &approvalRepo{q: v.q} }
func (v txRepos) Blocks() storage.BlockRepository             { return &blockRepo{q: v.q} }
func (v txRepos) Watermarks() storage.WatermarkRepository     { return &watermarkRepo{q: v.q} }
func (v txRepos) FailedRanges() storage.FailedRangeRepository { return &failedRangeRepo{q: v.q} }
