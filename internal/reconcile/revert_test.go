package reconcile

import (
	"context"
	"math/big"
	"testing"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/infra/storage/memory"
)

func TestRevertRestoresState(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", 10)
	seedBalance(t, store, testMaker, 10)
	r := New(store, nil, testLogger())

	transfer := domain.CanonicalEvent{
		Kind: domain.EventKindTransfer,
		Base: baseAt(10, 2),
		Transfer: &domain.TransferData{
			Contract: testContract,
			TokenID:  big.NewInt(7),
			From:     testMaker,
			To:       testTaker,
			Amount:   big.NewInt(2),
		},
	}
	delta := &domain.OnChainDelta{Events: []domain.CanonicalEvent{
		fillEvent(10, 1, "order-1", 3),
		transfer,
		cancelEvent(10, 3, "order-1"),
	}}
	if _, err := r.Apply(context.Background(), delta); err != nil {
		t.Fatalf("apply: %v", err)
	}

	order, _ := store.Orders().Get(context.Background(), "order-1")
	if order.FillabilityStatus != domain.FillabilityCancelled {
		t.Fatalf("pre-revert status = %s, want cancelled", order.FillabilityStatus)
	}

	if _, err := r.Revert(context.Background(), testBlockHash); err != nil {
		t.Fatalf("revert: %v", err)
	}

	order, _ = store.Orders().Get(context.Background(), "order-1")
	if order.FillabilityStatus != domain.FillabilityFillable {
		t.Errorf("status = %s, want fillable restored", order.FillabilityStatus)
	}
	if order.QuantityFilled.Sign() != 0 {
		t.Errorf("quantity filled = %s, want 0", order.QuantityFilled)
	}
	if order.QuantityRemaining.Int64() != 10 {
		t.Errorf("quantity remaining = %s, want 10", order.QuantityRemaining)
	}
	if got := getBalance(t, store, testMaker); got != 10 {
		t.Errorf("maker balance = %d, want 10", got)
	}
	if got := getBalance(t, store, testTaker); got != 0 {
		t.Errorf("taker balance = %d, want 0", got)
	}

	fills, _ := store.FillEvents().ByBlockHash(context.Background(), testBlockHash)
	cancels, _ := store.CancelEvents().ByBlockHash(context.Background(), testBlockHash)
	transfers, _ := store.TransferEvents().ByBlockHash(context.Background(), testBlockHash)
	if len(fills)+len(cancels)+len(transfers) != 0 {
		t.Errorf("event rows remain after revert: %d fills, %d cancels, %d transfers",
			len(fills), len(cancels), len(transfers))
	}
}

func TestRevertThenReapplyConverges(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", 10)
	seedBalance(t, store, testMaker, 10)
	r := New(store, nil, testLogger())

	delta := &domain.OnChainDelta{Events: []domain.CanonicalEvent{
		fillEvent(10, 1, "order-1", 4),
	}}
	if _, err := r.Apply(context.Background(), delta); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := r.Revert(context.Background(), testBlockHash); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if _, err := r.Apply(context.Background(), delta); err != nil {
		t.Fatalf("reapply: %v", err)
	}

	order, _ := store.Orders().Get(context.Background(), "order-1")
	if order.QuantityFilled.Int64() != 4 {
		t.Errorf("quantity filled = %s, want 4", order.QuantityFilled)
	}
	if order.QuantityRemaining.Int64() != 6 {
		t.Errorf("quantity remaining = %s, want 6", order.QuantityRemaining)
	}
	if got := getBalance(t, store, testTaker); got != 4 {
		t.Errorf("taker balance = %d, want 4", got)
	}
}

func TestRevertRejectedCancelIsNoop(t *testing.T) {
	store := memory.NewStore()
	seedOrder(t, store, "order-1", 1)
	seedBalance(t, store, testMaker, 1)
	r := New(store, nil, testLogger())

	delta := &domain.OnChainDelta{Events: []domain.CanonicalEvent{
		fillEvent(10, 1, "order-1", 1),
		cancelEvent(10, 2, "order-1"),
	}}
	if _, err := r.Apply(context.Background(), delta); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := r.Revert(context.Background(), testBlockHash); err != nil {
		t.Fatalf("revert: %v", err)
	}

	// The fill is reversed and the unapplied cancel must not cancel the
	// order on the way back.
	order, _ := store.Orders().Get(context.Background(), "order-1")
	if order.FillabilityStatus != domain.FillabilityFillable {
		t.Errorf("status = %s, want fillable", order.FillabilityStatus)
	}
	if order.QuantityRemaining.Int64() != 1 {
		t.Errorf("quantity remaining = %s, want 1", order.QuantityRemaining)
	}
}

func TestRevertMintBurnsBalance(t *testing.T) {
	store := memory.NewStore()
	r := New(store, nil, testLogger())

	delta := &domain.OnChainDelta{Events: []domain.CanonicalEvent{{
		Kind: domain.EventKindTransfer,
		Base: baseAt(10, 1),
		Transfer: &domain.TransferData{
			Contract: testContract,
			TokenID:  big.NewInt(7),
			From:     domain.ZeroAddress,
			To:       testTaker,
			Amount:   big.NewInt(1),
		},
	}}}
	if _, err := r.Apply(context.Background(), delta); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := r.Revert(context.Background(), testBlockHash); err != nil {
		t.Fatalf("revert: %v", err)
	}

	if got := getBalance(t, store, testTaker); got != 0 {
		t.Errorf("balance after reverted mint = %d, want 0", got)
	}
	if got := getBalance(t, store, domain.ZeroAddress); got != 0 {
		t.Errorf("zero address balance = %d, want 0", got)
	}
}
