package domain

// Watermark is the last block known to have been fully processed and
// durably applied for a chain. It is read at tick start and written only
// after the corresponding delta committed, never optimistically.
type Watermark struct {
	ChainID   uint64
	LastBlock uint64
	UpdatedAt uint64
}
