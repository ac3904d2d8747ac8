// Package decode turns raw EVM logs into canonical domain events.
//
// The registry maps (contract address set, topic0, topic count) to pure
// decode functions. Multiple protocols may share a topic0 (Wyvern and
// Blur both emit OrdersMatched); the address set disambiguates them.
// Logs from unknown (address, topic) combinations are silently skipped:
// a block range scan sees every log on the chain and almost all of them
// are irrelevant.
package decode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/openfloor/indexer/internal/core/domain"
	"github.com/openfloor/indexer/internal/metrics"
)

// TxContext carries per-transaction data a decoder may need. Decoders
// stay pure: everything they read arrives through the log or this
// struct.
type TxContext struct {
	BlockTimestamp uint64
}

// DecodeFunc turns one log into zero or more canonical events.
type DecodeFunc func(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error)

// ContractSet holds the active chain's marketplace deployment addresses.
type ContractSet struct {
	Seaport   []common.Address
	Wyvern    []common.Address
	LooksRare []common.Address
	X2Y2      []common.Address
	ZeroExV4  []common.Address
	Blur      []common.Address
}

type entry struct {
	topicCount int
	// addresses nil means any emitter matches (NFT transfer events come
	// from arbitrary contracts).
	addresses map[common.Address]struct{}
	fn        DecodeFunc
}

// Registry dispatches logs to decoders.
type Registry struct {
	byTopic map[common.Hash][]entry
}

// NewRegistry builds a registry with every protocol decoder wired for
// the given contract set.
func NewRegistry(contracts ContractSet) *Registry {
	r := &Registry{byTopic: make(map[common.Hash][]entry)}
	registerNftTransfers(r)
	registerSeaport(r, contracts.Seaport)
	registerWyvern(r, contracts.Wyvern)
	registerLooksRare(r, contracts.LooksRare)
	registerX2Y2(r, contracts.X2Y2)
	registerZeroExV4(r, contracts.ZeroExV4)
	registerBlur(r, contracts.Blur)
	return r
}

// Register adds a decoder. addrs nil matches any emitting contract.
func (r *Registry) Register(
	topic0 common.Hash,
	topicCount int,
	addrs []common.Address,
	fn DecodeFunc,
) {
	var set map[common.Address]struct{}
	if addrs != nil {
		set = make(map[common.Address]struct{}, len(addrs))
		for _, a := range addrs {
			set[a] = struct{}{}
		}
	}
	r.byTopic[topic0] = append(r.byTopic[topic0], entry{
		topicCount: topicCount,
		addresses:  set,
		fn:         fn,
	})
}

// Decode dispatches one log. Unmatched logs return nil, nil.
func (r *Registry) Decode(log *types.Log, txc TxContext) ([]domain.CanonicalEvent, error) {
	if len(log.Topics) == 0 || log.Removed {
		return nil, nil
	}

	var out []domain.CanonicalEvent
	for _, e := range r.byTopic[log.Topics[0]] {
		if e.topicCount != len(log.Topics) {
			continue
		}
		if e.addresses != nil {
			if _, ok := e.addresses[log.Address]; !ok {
				continue
			}
		}
		events, err := e.fn(log, txc)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}

	for _, ev := range out {
		metrics.EventsDecoded.WithLabelValues(string(ev.Kind)).Inc()
	}
	return out, nil
}

// baseParams builds shared event params from a log.
func baseParams(log *types.Log, txc TxContext, batchIndex uint) domain.BaseEventParams {
	return domain.BaseEventParams{
		Address:    log.Address,
		TxHash:     log.TxHash,
		BlockHash:  log.BlockHash,
		Block:      log.BlockNumber,
		LogIndex:   uint(log.Index),
		BatchIndex: batchIndex,
		Timestamp:  txc.BlockTimestamp,
	}
}

// ABI data helpers. Decoders slice 32-byte words directly instead of
// going through an ABI coder: the layouts are fixed per event and the
// functions must stay pure and allocation-light.

func word(data []byte, i int) []byte {
	start := i * 32
	if start+32 > len(data) {
		return nil
	}
	return data[start : start+32]
}

func wordBig(data []byte, i int) *big.Int {
	w := word(data, i)
	if w == nil {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(w)
}

func wordAddr(data []byte, i int) common.Address {
	w := word(data, i)
	if w == nil {
		return common.Address{}
	}
	return common.BytesToAddress(w[12:])
}

func wordHash(data []byte, i int) common.Hash {
	w := word(data, i)
	if w == nil {
		return common.Hash{}
	}
	return common.BytesToHash(w)
}

func wordBool(data []byte, i int) bool {
	return wordBig(data, i).Sign() != 0
}

// wordOffset resolves a dynamic-type head word into a word index.
func wordOffset(data []byte, i int) int {
	off := wordBig(data, i)
	if !off.IsInt64() {
		return -1
	}
	return int(off.Int64() / 32)
}

func topicAddr(t common.Hash) common.Address {
	return common.BytesToAddress(t.Bytes()[12:])
}

func topicBig(t common.Hash) *big.Int {
	return new(big.Int).SetBytes(t.Bytes())
}
