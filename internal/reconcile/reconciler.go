// Package reconcile applies OnChainDeltas to the persistent order, token
// and balance state, one short transaction per entity transition.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage"
	"github.com/openfloor/indexer/internal/metrics"
)

// WorkItem describes a state change for downstream aggregate
// recomputation. Derived values (floor ask, top bid) are never computed
// on the hot path.
type WorkItem struct {
	Kind string
	Key  string
}

// Work item kinds emitted by transitions.
const (
	WorkRecomputeToken  = "recompute-token-aggregates"
	WorkOrderChanged    = "order-status-changed"
	WorkEnrichmentRetry = "enrichment-retry"
)

// Enqueuer publishes side-effect work items after a transition commits.
type Enqueuer interface {
	Enqueue(ctx context.Context, items []WorkItem) error
}

// NopEnqueuer drops work items. Used by resync paths where downstream
// recomputation is triggered once at the end instead of per event.
type NopEnqueuer struct{}

func (NopEnqueuer) Enqueue(context.Context, []WorkItem) error { return nil }

// Reconciler folds canonical events into Order and NftBalance state.
// Every transition is idempotent: replaying a delta leaves state
// unchanged. Each event runs in its own transaction keyed by the entity
// it touches, so unrelated entities never contend.
type Reconciler struct {
	store    storage.Store
	enqueuer Enqueuer
	log      *slog.Logger
}

func New(store storage.Store, enqueuer Enqueuer, log *slog.Logger) *Reconciler {
	if enqueuer == nil {
		enqueuer = NopEnqueuer{}
	}
	return &Reconciler{
		store:    store,
		enqueuer: enqueuer,
		log:      log.With("component", "reconciler"),
	}
}

// Apply applies the delta event by event in its given order and returns
// the accumulated side effects. Duplicate idempotence keys are silently
// skipped. Events with unknown order ids create a minimal order so the
// raw event is never lost.
func (r *Reconciler) Apply(ctx context.Context, delta *domain.OnChainDelta) ([]WorkItem, error) {
	var all []WorkItem
	for i := range delta.Events {
		ev := &delta.Events[i]
		items, err := r.applyOne(ctx, ev)
		if err != nil {
			return all, fmt.Errorf("apply %s event %s: %w", ev.Kind, ev.Base.IdempotenceKey(), err)
		}
		if len(items) > 0 {
			if err := r.enqueuer.Enqueue(ctx, items); err != nil {
				return all, fmt.Errorf("enqueue side effects for %s: %w", ev.Base.IdempotenceKey(), err)
			}
			all = append(all, items...)
		}
	}

	for _, key := range delta.NeedsEnrichment {
		items := []WorkItem{{Kind: WorkEnrichmentRetry, Key: key}}
		if err := r.enqueuer.Enqueue(ctx, items); err != nil {
			return all, fmt.Errorf("enqueue enrichment retry %s: %w", key, err)
		}
		all = append(all, items...)
	}
	return all, nil
}

func (r *Reconciler) applyOne(ctx context.Context, ev *domain.CanonicalEvent) ([]WorkItem, error) {
	var (
		items   []WorkItem
		outcome = "applied"
		err     error
	)

	switch ev.Kind {
	case domain.EventKindFill:
		items, outcome, err = r.applyFill(ctx, ev)
	case domain.EventKindCancel:
		items, outcome, err = r.applyCancel(ctx, ev)
	case domain.EventKindTransfer:
		items, outcome, err = r.applyTransfer(ctx, ev)
	case domain.EventKindApproval:
		items, outcome, err = r.applyApproval(ctx, ev)
	case domain.EventKindOrderCreated:
		items, outcome, err = r.applyOrderCreated(ctx, ev)
	default:
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if err != nil {
		return nil, err
	}

	metrics.EventsApplied.WithLabelValues(string(ev.Kind), outcome).Inc()
	return items, nil
}

// applyFill caps the fill at the order's remaining quantity and persists
// the effective amount so a reorg reversal subtracts exactly what was
// applied. A fill against an already filled order records zero effect.
func (r *Reconciler) applyFill(ctx context.Context, ev *domain.CanonicalEvent) ([]WorkItem, string, error) {
	fill := ev.Fill
	key := ev.Base.IdempotenceKey()

	var items []WorkItem
	outcome := "applied"
	err := r.store.RunInTx(ctx, func(tx storage.Repos) error {
		dup, err := tx.FillEvents().Exists(ctx, key)
		if err != nil {
			return err
		}
		if dup {
			outcome = "duplicate"
			return nil
		}

		order, err := tx.Orders().Get(ctx, fill.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			order = orderFromFill(ev)
		}

		amount := fill.Amount
		if amount == nil {
			amount = big.NewInt(1)
		}
		effective := new(big.Int).Set(amount)
		if effective.Cmp(order.QuantityRemaining) > 0 {
			effective.Set(order.QuantityRemaining)
		}

		if effective.Sign() > 0 {
			order.QuantityFilled.Add(order.QuantityFilled, effective)
			order.QuantityRemaining.Sub(order.QuantityRemaining, effective)
		}
		if order.QuantityRemaining.Sign() <= 0 {
			order.FillabilityStatus = domain.FillabilityFilled
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return err
		}

		// Seller hands the token to the buyer. For a buy order the maker
		// is the buyer, so the directions swap.
		if fill.TokenID != nil && fill.Contract != domain.ZeroAddress && effective.Sign() > 0 {
			seller, buyer := fill.Maker, fill.Taker
			if fill.OrderSide == domain.SideBuy {
				seller, buyer = fill.Taker, fill.Maker
			}
			if err := moveBalance(ctx, tx, fill.Contract, fill.TokenID, seller, buyer, effective); err != nil {
				return err
			}
			items = append(items, WorkItem{
				Kind: WorkRecomputeToken,
				Key:  tokenKey(fill.Contract, fill.TokenID),
			})
		}

		items = append(items, WorkItem{Kind: WorkOrderChanged, Key: order.ID})

		return tx.FillEvents().Save(ctx, &storage.FillEvent{
			Base:            ev.Base,
			OrderKind:       ev.OrderKind,
			Data:            *fill,
			EffectiveAmount: effective,
			NeedsEnrichment: fill.USDPrice == nil,
		})
	})
	if err != nil {
		return nil, "", err
	}
	if outcome == "duplicate" {
		return nil, outcome, nil
	}
	return items, outcome, nil
}

// applyCancel marks the order cancelled unless it is already filled;
// filled is terminal and a later-observed cancel is semantically
// impossible on chain, so it is recorded unapplied.
func (r *Reconciler) applyCancel(ctx context.Context, ev *domain.CanonicalEvent) ([]WorkItem, string, error) {
	cancel := ev.Cancel
	key := ev.Base.IdempotenceKey()

	var items []WorkItem
	outcome := "applied"
	err := r.store.RunInTx(ctx, func(tx storage.Repos) error {
		dup, err := tx.CancelEvents().Exists(ctx, key)
		if err != nil {
			return err
		}
		if dup {
			outcome = "duplicate"
			return nil
		}

		order, err := tx.Orders().Get(ctx, cancel.OrderID)
		if err != nil {
			return err
		}

		row := &storage.CancelEvent{
			Base:      ev.Base,
			OrderKind: ev.OrderKind,
			Data:      *cancel,
		}

		switch {
		case order == nil:
			order = orderFromCancel(ev)
			row.PrevStatus = domain.FillabilityFillable
			row.Applied = true
		case order.Terminal():
			row.Applied = false
			outcome = "noop"
			if order.FillabilityStatus == domain.FillabilityFilled {
				outcome = "rejected-terminal"
			}
		default:
			row.PrevStatus = order.FillabilityStatus
			row.Applied = true
			order.FillabilityStatus = domain.FillabilityCancelled
		}

		if row.Applied {
			if err := tx.Orders().Save(ctx, order); err != nil {
				return err
			}
			items = append(items, WorkItem{Kind: WorkOrderChanged, Key: order.ID})
		}
		return tx.CancelEvents().Save(ctx, row)
	})
	if err != nil {
		return nil, "", err
	}
	return items, outcome, nil
}

func (r *Reconciler) applyTransfer(ctx context.Context, ev *domain.CanonicalEvent) ([]WorkItem, string, error) {
	tr := ev.Transfer
	key := ev.Base.IdempotenceKey()

	var items []WorkItem
	outcome := "applied"
	err := r.store.RunInTx(ctx, func(tx storage.Repos) error {
		dup, err := tx.TransferEvents().Exists(ctx, key)
		if err != nil {
			return err
		}
		if dup {
			outcome = "duplicate"
			return nil
		}

		if err := moveBalance(ctx, tx, tr.Contract, tr.TokenID, tr.From, tr.To, tr.Amount); err != nil {
			return err
		}
		items = append(items, WorkItem{
			Kind: WorkRecomputeToken,
			Key:  tokenKey(tr.Contract, tr.TokenID),
		})

		return tx.TransferEvents().Save(ctx, &storage.TransferEvent{
			Base: ev.Base,
			Data: *tr,
		})
	})
	if err != nil {
		return nil, "", err
	}
	return items, outcome, nil
}

func (r *Reconciler) applyApproval(ctx context.Context, ev *domain.CanonicalEvent) ([]WorkItem, string, error) {
	ap := ev.Approval

	var items []WorkItem
	err := r.store.RunInTx(ctx, func(tx storage.Repos) error {
		if err := tx.Approvals().Upsert(ctx, ap.Contract, ap.Owner, ap.Operator, ap.Approved); err != nil {
			return err
		}

		status := domain.ApprovalDisabled
		if ap.Approved {
			status = domain.ApprovalApproved
		}
		affected, err := tx.Orders().UpdateApproval(ctx, ap.Owner, ap.Contract, status)
		if err != nil {
			return err
		}
		for _, id := range affected {
			items = append(items, WorkItem{Kind: WorkOrderChanged, Key: id})
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return items, "applied", nil
}

func (r *Reconciler) applyOrderCreated(ctx context.Context, ev *domain.CanonicalEvent) ([]WorkItem, string, error) {
	oc := ev.OrderCreated

	var items []WorkItem
	outcome := "applied"
	err := r.store.RunInTx(ctx, func(tx storage.Repos) error {
		existing, err := tx.Orders().Get(ctx, oc.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			// A fill or cancel beat the creation event; the existing
			// state is more recent and must not regress.
			outcome = "noop"
			return nil
		}

		quantity := oc.Quantity
		if quantity == nil {
			quantity = big.NewInt(1)
		}
		order := &domain.Order{
			ID:                oc.OrderID,
			Kind:              ev.OrderKind,
			Side:              oc.Side,
			Maker:             oc.Maker,
			Contract:          oc.Contract,
			TokenID:           oc.TokenID,
			Currency:          oc.Currency,
			Price:             oc.Price,
			FillabilityStatus: domain.FillabilityFillable,
			ApprovalStatus:    domain.ApprovalApproved,
			QuantityFilled:    new(big.Int),
			QuantityRemaining: quantity,
			ValidFrom:         ev.Base.Timestamp,
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return err
		}
		items = append(items, WorkItem{Kind: WorkOrderChanged, Key: order.ID})
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return items, outcome, nil
}

// orderFromFill builds the order a fill references when it was never
// seen before (order placed before indexing started, or off-chain).
func orderFromFill(ev *domain.CanonicalEvent) *domain.Order {
	fill := ev.Fill
	amount := fill.Amount
	if amount == nil {
		amount = big.NewInt(1)
	}
	return &domain.Order{
		ID:                fill.OrderID,
		Kind:              ev.OrderKind,
		Side:              fill.OrderSide,
		Maker:             fill.Maker,
		Contract:          fill.Contract,
		TokenID:           fill.TokenID,
		Currency:          fill.Currency,
		Price:             fill.Price,
		FillabilityStatus: domain.FillabilityFillable,
		ApprovalStatus:    domain.ApprovalApproved,
		QuantityFilled:    new(big.Int),
		QuantityRemaining: new(big.Int).Set(amount),
		ValidFrom:         ev.Base.Timestamp,
	}
}

func orderFromCancel(ev *domain.CanonicalEvent) *domain.Order {
	return &domain.Order{
		ID:                ev.Cancel.OrderID,
		Kind:              ev.OrderKind,
		Side:              domain.SideSell,
		Maker:             ev.Cancel.Maker,
		FillabilityStatus: domain.FillabilityCancelled,
		ApprovalStatus:    domain.ApprovalApproved,
		QuantityFilled:    new(big.Int),
		QuantityRemaining: new(big.Int),
		ValidFrom:         ev.Base.Timestamp,
	}
}

// moveBalance decrements from and increments to. A zero-address sender
// is a mint and decrements nothing; a zero-address receiver is a burn.
// Balances clamp at zero rather than erroring on unseen history.
func moveBalance(
	ctx context.Context,
	tx storage.Repos,
	contract common.Address,
	tokenID *big.Int,
	from, to common.Address,
	amount *big.Int,
) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}

	if from != domain.ZeroAddress {
		if err := adjustBalance(ctx, tx, contract, tokenID, from, new(big.Int).Neg(amount)); err != nil {
			return err
		}
	}
	if to != domain.ZeroAddress {
		if err := adjustBalance(ctx, tx, contract, tokenID, to, amount); err != nil {
			return err
		}
	}
	return nil
}

func adjustBalance(
	ctx context.Context,
	tx storage.Repos,
	contract common.Address,
	tokenID *big.Int,
	owner common.Address,
	delta *big.Int,
) error {
	bal, err := tx.Balances().Get(ctx, contract, tokenID, owner)
	if err != nil {
		return err
	}
	if bal == nil {
		bal = &domain.NftBalance{
			Contract: contract,
			TokenID:  new(big.Int).Set(tokenID),
			Owner:    owner,
			Amount:   new(big.Int),
		}
	}
	bal.Amount.Add(bal.Amount, delta)
	if bal.Amount.Sign() < 0 {
		bal.Amount.SetInt64(0)
	}
	return tx.Balances().Save(ctx, bal)
}

func tokenKey(contract common.Address, tokenID *big.Int) string {
	return fmt.Sprintf("%s:%s", contract.Hex(), tokenID.String())
}
