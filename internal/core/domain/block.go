package domain

import "github.com/ethereum/go-ethereum/common"

// BlockStatus tracks a block's position in the reorg state machine.
// A block is Seen when first fetched, Confirmed once it is buried deeper
// than the reorg window, and Orphaned when a later fetch at the same
// height returned a different hash.
type BlockStatus string

const (
	BlockStatusSeen      BlockStatus = "seen"
	BlockStatusConfirmed BlockStatus = "confirmed"
	BlockStatusOrphaned  BlockStatus = "orphaned"
)

// Block is a locally stored block header. (Number, Hash) is the identity:
// during a reorg window two hashes can transiently exist for one number.
type Block struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
	Status     BlockStatus
}
