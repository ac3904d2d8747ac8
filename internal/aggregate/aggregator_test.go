package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/core/domain"
)

type mockPriceOracle struct {
	fail  bool
	calls int
}

func (m *mockPriceOracle) Convert(
	ctx context.Context,
	currency common.Address,
	amount *big.Int,
	timestamp uint64,
) (float64, float64, error) {
	m.calls++
	if m.fail {
		return 0, 0, errors.New("oracle unavailable")
	}
	return 100.5, 0.05, nil
}

type mockRoyaltyRegistry struct {
	fail bool
}

func (m *mockRoyaltyRegistry) RoyaltiesFor(
	ctx context.Context,
	contract common.Address,
	tokenID *big.Int,
) ([]domain.Royalty, error) {
	if m.fail {
		return nil, errors.New("registry unavailable")
	}
	return []domain.Royalty{{Recipient: common.HexToAddress("0x01"), Bps: 250}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fillAt(block uint64, logIndex, batchIndex uint) domain.CanonicalEvent {
	return domain.CanonicalEvent{
		Kind: domain.EventKindFill,
		Base: domain.BaseEventParams{
			TxHash:     common.HexToHash(fmt.Sprintf("0x%064x", block*1000+uint64(logIndex))),
			Block:      block,
			LogIndex:   logIndex,
			BatchIndex: batchIndex,
			Timestamp:  1700000000,
		},
		Fill: &domain.FillData{
			OrderID:  fmt.Sprintf("order-%d-%d-%d", block, logIndex, batchIndex),
			TokenID:  big.NewInt(1),
			Price:    big.NewInt(1000),
			Currency: common.Address{},
		},
	}
}

func TestBuildOrdersEvents(t *testing.T) {
	a := New(nil, nil, nil, nil, testLogger())

	events := []domain.CanonicalEvent{
		fillAt(12, 3, 0),
		fillAt(11, 9, 1),
		fillAt(11, 9, 0),
		fillAt(11, 2, 0),
	}
	delta, err := a.Build(context.Background(), events)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(delta.Events) != 4 {
		t.Fatalf("events = %d, want 4", len(delta.Events))
	}
	want := []struct {
		block      uint64
		logIndex   uint
		batchIndex uint
	}{
		{11, 2, 0}, {11, 9, 0}, {11, 9, 1}, {12, 3, 0},
	}
	for i, w := range want {
		b := delta.Events[i].Base
		if b.Block != w.block || b.LogIndex != w.logIndex || b.BatchIndex != w.batchIndex {
			t.Errorf("event %d at (%d,%d,%d), want (%d,%d,%d)",
				i, b.Block, b.LogIndex, b.BatchIndex, w.block, w.logIndex, w.batchIndex)
		}
	}
}

func TestBuildDeduplicatesByKey(t *testing.T) {
	a := New(nil, nil, nil, nil, testLogger())

	ev := fillAt(10, 1, 0)
	delta, err := a.Build(context.Background(), []domain.CanonicalEvent{ev, ev, ev})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(delta.Events) != 1 {
		t.Errorf("events = %d, want 1 after dedup", len(delta.Events))
	}
}

func TestBuildEnrichesFills(t *testing.T) {
	prices := &mockPriceOracle{}
	a := New(prices, &mockRoyaltyRegistry{}, nil, nil, testLogger())

	delta, err := a.Build(context.Background(), []domain.CanonicalEvent{fillAt(10, 1, 0)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	fill := delta.Events[0].Fill
	if fill.USDPrice == nil || *fill.USDPrice != 100.5 {
		t.Errorf("usd price = %v, want 100.5", fill.USDPrice)
	}
	if fill.NativePrice == nil || *fill.NativePrice != 0.05 {
		t.Errorf("native price = %v, want 0.05", fill.NativePrice)
	}
	if len(fill.Royalties) != 1 || fill.Royalties[0].Bps != 250 {
		t.Errorf("royalties = %+v, want one 250 bps entry", fill.Royalties)
	}
	if len(delta.NeedsEnrichment) != 0 {
		t.Errorf("needs enrichment = %v, want none", delta.NeedsEnrichment)
	}
}

func TestBuildKeepsFillOnEnrichmentFailure(t *testing.T) {
	a := New(&mockPriceOracle{fail: true}, nil, nil, nil, testLogger())

	ev := fillAt(10, 1, 0)
	delta, err := a.Build(context.Background(), []domain.CanonicalEvent{ev})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(delta.Events) != 1 {
		t.Fatal("fill must survive a failing collaborator")
	}
	if delta.Events[0].Fill.USDPrice != nil {
		t.Error("usd price should stay nil on failure")
	}
	if len(delta.NeedsEnrichment) != 1 || delta.NeedsEnrichment[0] != ev.Base.IdempotenceKey() {
		t.Errorf("needs enrichment = %v, want the fill's key", delta.NeedsEnrichment)
	}
}

func TestEnrichSkipsAlreadyEnriched(t *testing.T) {
	prices := &mockPriceOracle{}
	a := New(prices, nil, nil, nil, testLogger())

	ev := fillAt(10, 1, 0)
	usd := 50.0
	ev.Fill.USDPrice = &usd

	if done := a.Enrich(context.Background(), &ev); !done {
		t.Error("enrich should report complete")
	}
	if prices.calls != 0 {
		t.Errorf("oracle called %d times for an already priced fill", prices.calls)
	}
	if *ev.Fill.USDPrice != 50.0 {
		t.Errorf("usd price = %v, must not be overwritten", *ev.Fill.USDPrice)
	}
}

func TestBuildSkipsEnrichmentForNonFills(t *testing.T) {
	prices := &mockPriceOracle{}
	a := New(prices, nil, nil, nil, testLogger())

	ev := domain.CanonicalEvent{
		Kind: domain.EventKindTransfer,
		Base: domain.BaseEventParams{Block: 10, LogIndex: 1},
		Transfer: &domain.TransferData{
			TokenID: big.NewInt(1),
			Amount:  big.NewInt(1),
		},
	}
	if _, err := a.Build(context.Background(), []domain.CanonicalEvent{ev}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if prices.calls != 0 {
		t.Errorf("oracle called %d times for a transfer", prices.calls)
	}
}
