package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage"
)

// Revert undoes every state change attributed to one block hash, in
// descending (logIndex, batchIndex) order, then deletes the raw event
// rows. After a revert followed by a re-apply of the canonical chain the
// state is indistinguishable from never having seen the orphaned block.
func (r *Reconciler) Revert(ctx context.Context, blockHash common.Hash) ([]WorkItem, error) {
	fills, err := r.store.FillEvents().ByBlockHash(ctx, blockHash)
	if err != nil {
		return nil, fmt.Errorf("load fills for %s: %w", blockHash.Hex(), err)
	}
	cancels, err := r.store.CancelEvents().ByBlockHash(ctx, blockHash)
	if err != nil {
		return nil, fmt.Errorf("load cancels for %s: %w", blockHash.Hex(), err)
	}
	transfers, err := r.store.TransferEvents().ByBlockHash(ctx, blockHash)
	if err != nil {
		return nil, fmt.Errorf("load transfers for %s: %w", blockHash.Hex(), err)
	}

	type reversal struct {
		logIndex   uint
		batchIndex uint
		undo       func(tx storage.Repos) ([]WorkItem, error)
	}
	reversals := make([]reversal, 0, len(fills)+len(cancels)+len(transfers))
	for _, f := range fills {
		f := f
		reversals = append(reversals, reversal{
			logIndex:   f.Base.LogIndex,
			batchIndex: f.Base.BatchIndex,
			undo:       func(tx storage.Repos) ([]WorkItem, error) { return revertFill(ctx, tx, f) },
		})
	}
	for _, c := range cancels {
		c := c
		reversals = append(reversals, reversal{
			logIndex:   c.Base.LogIndex,
			batchIndex: c.Base.BatchIndex,
			undo:       func(tx storage.Repos) ([]WorkItem, error) { return revertCancel(ctx, tx, c) },
		})
	}
	for _, t := range transfers {
		t := t
		reversals = append(reversals, reversal{
			logIndex:   t.Base.LogIndex,
			batchIndex: t.Base.BatchIndex,
			undo:       func(tx storage.Repos) ([]WorkItem, error) { return revertTransfer(ctx, tx, t) },
		})
	}

	sort.SliceStable(reversals, func(i, j int) bool {
		if reversals[i].logIndex != reversals[j].logIndex {
			return reversals[i].logIndex > reversals[j].logIndex
		}
		return reversals[i].batchIndex > reversals[j].batchIndex
	})

	var all []WorkItem
	for _, rev := range reversals {
		var items []WorkItem
		err := r.store.RunInTx(ctx, func(tx storage.Repos) error {
			var err error
			items, err = rev.undo(tx)
			return err
		})
		if err != nil {
			return all, fmt.Errorf("revert block %s: %w", blockHash.Hex(), err)
		}
		all = append(all, items...)
	}

	err = r.store.RunInTx(ctx, func(tx storage.Repos) error {
		if err := tx.FillEvents().DeleteByBlockHash(ctx, blockHash); err != nil {
			return err
		}
		if err := tx.CancelEvents().DeleteByBlockHash(ctx, blockHash); err != nil {
			return err
		}
		return tx.TransferEvents().DeleteByBlockHash(ctx, blockHash)
	})
	if err != nil {
		return all, fmt.Errorf("delete event rows for %s: %w", blockHash.Hex(), err)
	}

	if len(all) > 0 {
		if err := r.enqueuer.Enqueue(ctx, all); err != nil {
			return all, fmt.Errorf("enqueue revert side effects: %w", err)
		}
	}
	return all, nil
}

// revertFill subtracts exactly the effective amount the fill applied and
// reopens the order if the fill was what closed it.
func revertFill(ctx context.Context, tx storage.Repos, f *storage.FillEvent) ([]WorkItem, error) {
	if f.EffectiveAmount == nil || f.EffectiveAmount.Sign() == 0 {
		return nil, nil
	}

	order, err := tx.Orders().Get(ctx, f.Data.OrderID)
	if err != nil {
		return nil, err
	}
	var items []WorkItem
	if order != nil {
		order.QuantityFilled.Sub(order.QuantityFilled, f.EffectiveAmount)
		if order.QuantityFilled.Sign() < 0 {
			order.QuantityFilled.SetInt64(0)
		}
		order.QuantityRemaining.Add(order.QuantityRemaining, f.EffectiveAmount)
		if order.FillabilityStatus == domain.FillabilityFilled && order.QuantityRemaining.Sign() > 0 {
			order.FillabilityStatus = domain.FillabilityFillable
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return nil, err
		}
		items = append(items, WorkItem{Kind: WorkOrderChanged, Key: order.ID})
	}

	if f.Data.TokenID != nil && f.Data.Contract != domain.ZeroAddress {
		seller, buyer := f.Data.Maker, f.Data.Taker
		if f.Data.OrderSide == domain.SideBuy {
			seller, buyer = f.Data.Taker, f.Data.Maker
		}
		// Token goes back from buyer to seller.
		if err := moveBalance(ctx, tx, f.Data.Contract, f.Data.TokenID, buyer, seller, f.EffectiveAmount); err != nil {
			return nil, err
		}
		items = append(items, WorkItem{
			Kind: WorkRecomputeToken,
			Key:  tokenKey(f.Data.Contract, f.Data.TokenID),
		})
	}
	return items, nil
}

func revertCancel(ctx context.Context, tx storage.Repos, c *storage.CancelEvent) ([]WorkItem, error) {
	if !c.Applied {
		return nil, nil
	}
	order, err := tx.Orders().Get(ctx, c.Data.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.FillabilityStatus != domain.FillabilityCancelled {
		return nil, nil
	}
	order.FillabilityStatus = c.PrevStatus
	if err := tx.Orders().Save(ctx, order); err != nil {
		return nil, err
	}
	return []WorkItem{{Kind: WorkOrderChanged, Key: order.ID}}, nil
}

func revertTransfer(ctx context.Context, tx storage.Repos, t *storage.TransferEvent) ([]WorkItem, error) {
	// Moving to -> from inverts the original; a mint reverses into a
	// burn because the zero-address leg is skipped either way.
	if err := moveBalance(ctx, tx, t.Data.Contract, t.Data.TokenID, t.Data.To, t.Data.From, t.Data.Amount); err != nil {
		return nil, err
	}
	return []WorkItem{{
		Kind: WorkRecomputeToken,
		Key:  tokenKey(t.Data.Contract, t.Data.TokenID),
	}}, nil
}
