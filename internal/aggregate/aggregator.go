// Package aggregate assembles decoded events into an ordered, enriched
// OnChainDelta ready for the reconciler.
package aggregate

import (
	"context"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/indexer/internal/core/domain"
)

// PriceOracle converts a raw currency amount into USD and native values
// at a block timestamp.
type PriceOracle interface {
	Convert(ctx context.Context, currency common.Address, amount *big.Int, timestamp uint64) (usd, native float64, err error)
}

// RoyaltyRegistry resolves the royalty schedule for a token.
type RoyaltyRegistry interface {
	RoyaltiesFor(ctx context.Context, contract common.Address, tokenID *big.Int) ([]domain.Royalty, error)
}

// AttributionResolver maps a fill's transaction to its order, fill and
// aggregator sources.
type AttributionResolver interface {
	Attribute(ctx context.Context, txHash common.Hash, taker common.Address) (*domain.Attribution, error)
}

// WashScorer rates the likelihood that a fill is wash trading.
type WashScorer interface {
	Score(ctx context.Context, fill *domain.FillData) (float64, error)
}

// Aggregator orders, deduplicates and enriches canonical events. Every
// collaborator is optional; a nil or failing one leaves the matching
// enrichment field nil and records the fill for async repair. Raw event
// data is never dropped on enrichment failure.
type Aggregator struct {
	prices      PriceOracle
	royalties   RoyaltyRegistry
	attribution AttributionResolver
	wash        WashScorer
	log         *slog.Logger
}

func New(
	prices PriceOracle,
	royalties RoyaltyRegistry,
	attribution AttributionResolver,
	wash WashScorer,
	log *slog.Logger,
) *Aggregator {
	return &Aggregator{
		prices:      prices,
		royalties:   royalties,
		attribution: attribution,
		wash:        wash,
		log:         log.With("component", "aggregator"),
	}
}

// Build produces the delta for one block range. Events are sorted by
// (Block, LogIndex, BatchIndex) ascending and deduplicated by
// idempotence key, first occurrence winning.
func (a *Aggregator) Build(ctx context.Context, events []domain.CanonicalEvent) (*domain.OnChainDelta, error) {
	sorted := make([]domain.CanonicalEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		bi, bj := sorted[i].Base, sorted[j].Base
		if bi.Block != bj.Block {
			return bi.Block < bj.Block
		}
		if bi.LogIndex != bj.LogIndex {
			return bi.LogIndex < bj.LogIndex
		}
		return bi.BatchIndex < bj.BatchIndex
	})

	delta := &domain.OnChainDelta{Events: make([]domain.CanonicalEvent, 0, len(sorted))}
	seen := make(map[string]struct{}, len(sorted))
	for _, ev := range sorted {
		key := ev.Base.IdempotenceKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if ev.Kind == domain.EventKindFill {
			if !a.enrich(ctx, &ev) {
				delta.NeedsEnrichment = append(delta.NeedsEnrichment, key)
			}
		}
		delta.Events = append(delta.Events, ev)
	}
	return delta, nil
}

// Enrich repairs a single fill's enrichment fields in place. Used by the
// enrichment retry worker.
func (a *Aggregator) Enrich(ctx context.Context, ev *domain.CanonicalEvent) bool {
	return a.enrich(ctx, ev)
}

func (a *Aggregator) enrich(ctx context.Context, ev *domain.CanonicalEvent) bool {
	fill := ev.Fill
	complete := true

	if a.prices != nil && fill.Price != nil && fill.USDPrice == nil {
		usd, native, err := a.prices.Convert(ctx, fill.Currency, fill.Price, ev.Base.Timestamp)
		if err != nil {
			a.log.Warn("price conversion failed",
				"tx", ev.Base.TxHash.Hex(), "currency", fill.Currency.Hex(), "error", err)
			complete = false
		} else {
			fill.USDPrice = &usd
			fill.NativePrice = &native
		}
	}

	if a.royalties != nil && fill.Royalties == nil && fill.TokenID != nil {
		r, err := a.royalties.RoyaltiesFor(ctx, fill.Contract, fill.TokenID)
		if err != nil {
			a.log.Warn("royalty lookup failed",
				"tx", ev.Base.TxHash.Hex(), "contract", fill.Contract.Hex(), "error", err)
			complete = false
		} else {
			fill.Royalties = r
		}
	}

	if a.attribution != nil && fill.Attribution == nil {
		attr, err := a.attribution.Attribute(ctx, ev.Base.TxHash, fill.Taker)
		if err != nil {
			a.log.Warn("attribution failed", "tx", ev.Base.TxHash.Hex(), "error", err)
			complete = false
		} else {
			fill.Attribution = attr
		}
	}

	if a.wash != nil && fill.WashScore == nil {
		score, err := a.wash.Score(ctx, fill)
		if err != nil {
			a.log.Warn("wash scoring failed", "tx", ev.Base.TxHash.Hex(), "error", err)
			complete = false
		} else {
			fill.WashScore = &score
		}
	}

	return complete
}
